package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

type messagePage struct {
	Title   string
	Message string
}

func (a *API) respondPage(w http.ResponseWriter, status int, name string, data any) {
	body, err := a.deps.Renderer.Render(name, data)
	if err != nil {
		a.deps.Logger.Error().Err(err).Str("template", name).Msg("render page")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (a *API) respondMessage(w http.ResponseWriter, status int, title, message string) {
	a.respondPage(w, status, "message.html.tmpl", messagePage{Title: title, Message: message})
}

func respondText(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, format, args...)
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 5*time.Second)
}

// humanWindow renders a retention window for people, e.g. "24 hours".
func humanWindow(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		if h := int(d / time.Hour); h != 1 {
			return fmt.Sprintf("%d hours", h)
		}
		return "1 hour"
	case d >= time.Minute && d%time.Minute == 0:
		if m := int(d / time.Minute); m != 1 {
			return fmt.Sprintf("%d minutes", m)
		}
		return "1 minute"
	default:
		return d.String()
	}
}

// formPassword reads the password field without letting a large body through.
func formPassword(w http.ResponseWriter, r *http.Request) string {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		return ""
	}
	return r.PostFormValue("password")
}
