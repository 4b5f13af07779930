package api

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"

	"photodrop/services/artifacts"
	"photodrop/services/inbox"
)

type inboxPage struct {
	Error         string
	Authenticated bool
	Artifacts     []artifacts.Artifact
	Password      string
	Expiry        string
}

func (a *API) handleInboxLogin(w http.ResponseWriter, r *http.Request) {
	a.respondPage(w, http.StatusOK, "inbox.html.tmpl", inboxPage{})
}

func (a *API) handleInbox(w http.ResponseWriter, r *http.Request) {
	password := formPassword(w, r)
	if err := a.deps.Inbox.Authenticate(password); err != nil {
		a.respondPage(w, http.StatusOK, "inbox.html.tmpl", inboxPage{Error: "Wrong password"})
		return
	}

	list, err := a.deps.Inbox.List(r.Context())
	if err != nil {
		a.deps.Logger.Error().Err(err).Msg("list inbox")
		a.respondMessage(w, http.StatusInternalServerError, "Inbox unavailable", "The inbox could not be read.")
		return
	}

	a.respondPage(w, http.StatusOK, "inbox.html.tmpl", inboxPage{
		Authenticated: true,
		Artifacts:     list,
		Password:      password,
		Expiry:        humanWindow(a.deps.Inbox.Window()),
	})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Inbox.Authenticate(formPassword(w, r)); err != nil {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	art, body, err := a.deps.Inbox.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		a.deps.Logger.Error().Err(err).Msg("download artifact")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(art))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": art.Name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *API) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := a.deps.Inbox.DeleteAll(r.Context(), formPassword(w, r))
	if err != nil {
		if errors.Is(err, inbox.ErrUnauthorized) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		// Partial failure: report what was removed, keep the details in the log.
		a.deps.Logger.Error().Err(err).Int("deleted", n).Msg("delete all artifacts")
		respondText(w, http.StatusInternalServerError, "Deleted %d, some artifacts could not be removed", n)
		return
	}
	respondText(w, http.StatusOK, "Deleted %d", n)
}

func contentType(art artifacts.Artifact) string {
	if art.Shape == artifacts.ShapeArchive {
		return "application/zip"
	}
	if ct := mime.TypeByExtension(path.Ext(art.Name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
