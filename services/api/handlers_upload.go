package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"photodrop/pkg/bus"
	"photodrop/services/artifacts"
	"photodrop/services/packager"
)

const uploadSuccess = "Upload successful. You can close this page."

type uploadPage struct {
	Token string
}

func (a *API) handleGenerate(w http.ResponseWriter, r *http.Request) {
	_, password, ok := r.BasicAuth()
	if !ok || a.deps.Inbox.Authenticate(password) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="photodrop", charset="UTF-8"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	tok := a.deps.Tokens.Issue()
	a.deps.Metrics.TokenIssued()
	a.deps.Logger.Info().Time("issued_at", tok.IssuedAt).Msg("upload token issued")

	respondText(w, http.StatusOK, "Upload link: %s/upload/%s", a.config.PublicBaseURL, tok.Value)
}

func (a *API) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !a.deps.Tokens.Valid(token) {
		a.respondMessage(w, http.StatusForbidden, "Link unavailable", "This upload link is invalid or has already been used.")
		return
	}
	a.respondPage(w, http.StatusOK, "upload.html.tmpl", uploadPage{Token: token})
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	// Cheap early rejection before reading a potentially large body; the
	// packager repeats the check atomically.
	if !a.deps.Tokens.Valid(token) {
		a.deps.Metrics.Upload("invalid_token")
		a.respondMessage(w, http.StatusForbidden, "Link unavailable", "This upload link is invalid or has already been used.")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxUploadBytes)
	var files []packager.File
	switch err := r.ParseMultipartForm(multipartMemory); {
	case err == nil:
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		parts, err := readParts(r.MultipartForm.File["photos"])
		if err != nil {
			a.deps.Metrics.Upload("bad_request")
			a.respondMessage(w, http.StatusBadRequest, "Upload failed", "The uploaded files could not be read.")
			return
		}
		files = parts
	case errors.Is(err, http.ErrNotMultipart):
		// A plain form carries no files; the packager still checks the
		// password before reporting that.
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.deps.Metrics.Upload("too_large")
			a.respondMessage(w, http.StatusRequestEntityTooLarge, "Upload too large",
				fmt.Sprintf("Uploads are limited to %d bytes.", a.config.MaxUploadBytes))
			return
		}
		a.deps.Metrics.Upload("bad_request")
		a.respondMessage(w, http.StatusBadRequest, "Upload failed", "The upload form could not be read.")
		return
	}

	created, err := a.deps.Packager.Accept(r.Context(), token, r.PostFormValue("password"), files)
	if err != nil {
		a.respondUploadError(w, err)
		return
	}

	a.recordSubmission(r, created)
	a.respondMessage(w, http.StatusOK, "Thank you", uploadSuccess)
}

func (a *API) respondUploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, packager.ErrInvalidToken):
		a.deps.Metrics.Upload("invalid_token")
		a.respondMessage(w, http.StatusForbidden, "Link unavailable", "This upload link is invalid or has already been used.")
	case errors.Is(err, packager.ErrUnauthorized):
		a.deps.Metrics.Upload("unauthorized")
		a.respondMessage(w, http.StatusForbidden, "Wrong password", "The upload password is not correct.")
	case errors.Is(err, packager.ErrNoFiles):
		a.deps.Metrics.Upload("no_files")
		a.respondMessage(w, http.StatusBadRequest, "No photos", "Select at least one photo to upload.")
	default:
		a.deps.Metrics.Upload("storage_error")
		a.deps.Logger.Error().Err(err).Msg("store submission")
		a.respondMessage(w, http.StatusInternalServerError, "Upload failed", "The upload could not be saved. The link still works, please try again.")
	}
}

func (a *API) recordSubmission(r *http.Request, created []artifacts.Artifact) {
	event := bus.SubmissionReceived{Shape: string(created[0].Shape), At: time.Now().UTC()}
	for _, art := range created {
		a.deps.Metrics.ArtifactCreated(string(art.Shape))
		event.ArtifactIDs = append(event.ArtifactIDs, art.ID)
		event.Files += art.Files
		event.Bytes += art.Size
	}
	a.deps.Metrics.Upload("accepted")
	a.deps.Logger.Info().
		Int("artifacts", len(created)).
		Int("files", event.Files).
		Int64("bytes", event.Bytes).
		Str("shape", event.Shape).
		Msg("submission stored")

	if a.deps.Events == nil {
		return
	}
	if err := a.deps.Events.Publish(r.Context(), bus.SubjectSubmissionReceived, event); err != nil {
		a.deps.Logger.Warn().Err(err).Msg("publish submission event")
	}
}

func readParts(headers []*multipart.FileHeader) ([]packager.File, error) {
	files := make([]packager.File, 0, len(headers))
	for _, fh := range headers {
		content, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", fh.Filename, err)
		}
		files = append(files, packager.File{Name: fh.Filename, Content: content})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
