package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"formtato/internal/order"
	"formtato/internal/storage"
	"formtato/internal/wallet"
)

// orderView is the visitor's order state, rendered into the page and
// returned as JSON to clients that ask for it.
type orderView struct {
	State               string             `json:"state"`
	Name                string             `json:"name"`
	TwitterUsername     string             `json:"twitterUsername"`
	WalletAddress       string             `json:"walletAddress"`
	Errors              order.FieldErrors  `json:"errors"`
	InspirationURI      string             `json:"inspirationURI,omitempty"`
	InspirationFileName string             `json:"inspirationFileName,omitempty"`
	CommissionID        int64              `json:"commissionId,omitempty"`
	TxHash              string             `json:"txHash,omitempty"`
	Wallet              wallet.Session     `json:"wallet"`
	ConnectLabel        string             `json:"connectLabel"`
	ConnectDisabled     bool               `json:"connectDisabled"`
	Upload              order.UploadStatus `json:"upload"`
	Payment             string             `json:"payment"`
	Alerts              []string           `json:"alerts,omitempty"`
}

func (s *Server) orderView(v *visitor) orderView {
	form := v.form.View()
	return orderView{
		State:               form.State.String(),
		Name:                form.Details.Name,
		TwitterUsername:     form.Details.TwitterUsername,
		WalletAddress:       form.Details.WalletAddress,
		Errors:              form.Errors,
		InspirationURI:      form.InspirationURI,
		InspirationFileName: form.InspirationFileName,
		CommissionID:        form.CommissionID,
		TxHash:              form.TxHash,
		Wallet:              v.state.Session(),
		ConnectLabel:        v.connect.Label(),
		ConnectDisabled:     v.connect.Disabled(),
		Upload:              v.upload.Status(),
		Payment:             v.review.Status().String(),
		Alerts:              v.takeAlerts(),
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// respond answers an order action: JSON state for API clients, otherwise a
// redirect back to the page, which shows alerts and field errors.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v *visitor, status int) {
	if wantsJSON(r) {
		writeJSON(w, status, s.orderView(v))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleOrderState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orderView(visitorFrom(r)))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	ctx := r.Context()
	if provider := r.FormValue("provider"); provider != "" {
		ctx = wallet.WithProviderChoice(ctx, provider)
	}

	err := v.connect.Click(ctx)
	v.state.Refresh()
	if err != nil {
		s.log.WithError(err).WithField("visitor", v.id).Warn("wallet connect failed")
		v.alert(err.Error())
		s.respond(w, r, v, http.StatusBadGateway)
		return
	}
	s.respond(w, r, v, http.StatusOK)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	err := v.wallet.Disconnect(r.Context())
	v.state.Refresh()
	if err != nil {
		s.log.WithError(err).WithField("visitor", v.id).Warn("wallet disconnect failed")
		s.respond(w, r, v, http.StatusInternalServerError)
		return
	}
	s.respond(w, r, v, http.StatusOK)
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if !v.state.Session().Connected {
		v.alert("Connect your wallet to continue.")
		s.respond(w, r, v, http.StatusConflict)
		return
	}

	errs, err := v.form.SubmitDetails(order.Details{
		Name:            r.FormValue("name"),
		TwitterUsername: r.FormValue("twitterUsername"),
		WalletAddress:   r.FormValue("walletAddress"),
	})
	switch {
	case errors.Is(err, order.ErrInvalidTransition):
		s.respond(w, r, v, http.StatusConflict)
	case errs.Any():
		s.respond(w, r, v, http.StatusUnprocessableEntity)
	default:
		s.respond(w, r, v, http.StatusOK)
	}
}

func (s *Server) handleFieldBlur(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	v.form.ClearFieldError(order.Field(chi.URLParam(r, "field")))
	s.respond(w, r, v, http.StatusOK)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, visitorFrom(r).upload.Status())
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if v.form.State() != order.EnterDetails {
		s.respond(w, r, v, http.StatusConflict)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(storage.MaxUploadBytes); err != nil {
		http.Error(w, "invalid upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, storage.MaxUploadBytes+1))
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	err = v.upload.Select(v.ctx, order.File{
		Name:        header.Filename,
		ContentType: contentType(header.Header.Get("Content-Type"), data),
		Data:        data,
	})
	switch {
	case errors.Is(err, order.ErrUnsupportedType):
		v.alert("Please pick a JPEG, PNG, WebP or GIF image.")
		s.respond(w, r, v, http.StatusUnsupportedMediaType)
	case errors.Is(err, order.ErrFileTooLarge):
		v.alert("That image is too large.")
		s.respond(w, r, v, http.StatusRequestEntityTooLarge)
	case err != nil:
		s.respond(w, r, v, http.StatusInternalServerError)
	default:
		s.respond(w, r, v, http.StatusAccepted)
	}
}

func contentType(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func (s *Server) handleUploadClear(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if v.form.State() != order.EnterDetails {
		s.respond(w, r, v, http.StatusConflict)
		return
	}
	v.upload.Clear()
	s.respond(w, r, v, http.StatusOK)
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if v.form.State() != order.Review {
		s.respond(w, r, v, http.StatusConflict)
		return
	}
	if !v.wallet.Session().Connected {
		s.metrics.incPayment("rejected")
		v.alert("Your wallet disconnected. Reconnect it to order.")
		s.respond(w, r, v, http.StatusConflict)
		return
	}

	_, err := v.review.Order(r.Context())
	switch {
	case errors.Is(err, order.ErrPaymentInFlight), errors.Is(err, order.ErrPaymentSettled):
		s.metrics.incPayment("rejected")
		s.respond(w, r, v, http.StatusConflict)
	case order.IsUserRejection(err):
		s.metrics.incPayment("cancelled")
		s.respond(w, r, v, http.StatusOK)
	case err != nil:
		s.metrics.incPayment("failed")
		s.respond(w, r, v, http.StatusBadGateway)
	default:
		s.metrics.incPayment("sent")
		if v.form.State() != order.Confirmed {
			s.respond(w, r, v, http.StatusAccepted)
			return
		}
		s.respond(w, r, v, http.StatusOK)
	}
}

// handleConfirm retries recording a settled payment whose first save failed.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	v := visitorFrom(r)
	if v.review.Status() != order.PaymentSettled {
		s.respond(w, r, v, http.StatusConflict)
		return
	}
	if _, err := v.form.Confirm(r.Context(), v.review.Hash().Hex()); err != nil {
		s.log.WithError(err).WithField("visitor", v.id).Error("retry record paid order")
		v.alert("The order could not be saved yet. Please retry.")
		s.respond(w, r, v, http.StatusInternalServerError)
		return
	}
	s.respond(w, r, v, http.StatusOK)
}
