package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"formtato/internal/storage"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrFileTooLarge    = errors.New("file too large")
)

// AcceptedTypes are the image types the upload control takes.
var AcceptedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// File is a selected inspiration image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadStatus is a snapshot of the upload control.
type UploadStatus struct {
	FileName  string `json:"fileName,omitempty"`
	URI       string `json:"uri,omitempty"`
	Uploading bool   `json:"uploading"`
	Error     string `json:"error,omitempty"`
}

// UploadControl uploads the selected file in the background. Only the most
// recent selection may settle the control; older completions are dropped.
type UploadControl struct {
	uploader storage.Uploader
	log      logrus.FieldLogger

	// OnFileLoad receives the selected file, or nil when cleared.
	OnFileLoad func(*File)
	// OnChange receives the content-addressed URI, or "" when cleared.
	OnChange func(uri string)
	// OnUpload observes finished uploads; err is nil on success.
	OnUpload func(err error)

	// notifyMu orders OnFileLoad and OnChange calls, so a settle cannot
	// report a URI after the selection moved on.
	notifyMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	file      *File
	uri       string
	uploading bool
	err       error

	wg sync.WaitGroup
}

func NewUploadControl(uploader storage.Uploader, log logrus.FieldLogger) *UploadControl {
	return &UploadControl{uploader: uploader, log: log.WithField("component", "upload")}
}

// Select marks the control uploading and starts the upload. ctx must outlive
// the request that selected the file.
func (u *UploadControl) Select(ctx context.Context, f File) error {
	if !AcceptedTypes[f.ContentType] {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, f.ContentType)
	}
	if len(f.Data) > storage.MaxUploadBytes {
		return ErrFileTooLarge
	}

	u.notifyMu.Lock()
	u.mu.Lock()
	u.gen++
	gen := u.gen
	u.file = &f
	hadURI := u.uri != ""
	u.uri = ""
	u.err = nil
	u.uploading = true
	onFileLoad, onChange := u.OnFileLoad, u.OnChange
	u.mu.Unlock()

	if onFileLoad != nil {
		onFileLoad(&f)
	}
	// The previous image no longer matches the selection.
	if hadURI && onChange != nil {
		onChange("")
	}
	u.notifyMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		uri, err := u.uploader.Upload(ctx, f.Name, f.ContentType, bytes.NewReader(f.Data))
		u.settle(gen, f.Name, uri, err)
	}()
	return nil
}

func (u *UploadControl) settle(gen uint64, name, uri string, err error) {
	u.mu.Lock()
	onUpload := u.OnUpload
	current := gen == u.gen
	if current {
		u.uploading = false
		if err != nil {
			u.err = err
		} else {
			u.uri = uri
		}
	}
	u.mu.Unlock()

	if onUpload != nil {
		onUpload(err)
	}
	if !current {
		u.log.WithField("file", name).Debug("discarding stale upload")
		return
	}
	if err != nil {
		u.log.WithError(err).WithField("file", name).Warn("upload failed")
		return
	}
	u.log.WithFields(logrus.Fields{"file": name, "uri": uri}).Info("upload finished")

	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()
	u.mu.Lock()
	current = gen == u.gen
	onChange := u.OnChange
	u.mu.Unlock()
	if !current {
		u.log.WithField("file", name).Debug("selection changed before upload was reported")
		return
	}
	if onChange != nil {
		onChange(uri)
	}
}

// Clear drops the selection. Any in-flight upload is left to finish and its
// result discarded.
func (u *UploadControl) Clear() {
	u.notifyMu.Lock()
	defer u.notifyMu.Unlock()

	u.mu.Lock()
	u.gen++
	u.file = nil
	u.uri = ""
	u.err = nil
	u.uploading = false
	onFileLoad, onChange := u.OnFileLoad, u.OnChange
	u.mu.Unlock()

	if onFileLoad != nil {
		onFileLoad(nil)
	}
	if onChange != nil {
		onChange("")
	}
}

func (u *UploadControl) Status() UploadStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	st := UploadStatus{URI: u.uri, Uploading: u.uploading}
	if u.file != nil {
		st.FileName = u.file.Name
	}
	if u.err != nil {
		st.Error = u.err.Error()
	}
	return st
}

func (u *UploadControl) Uploading() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.uploading
}

// Wait blocks until every started upload has returned.
func (u *UploadControl) Wait() {
	u.wg.Wait()
}
