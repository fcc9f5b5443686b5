// Package templates renders the HTML fragments served to htmx clients.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/activism/internal/batch"
)

// PollInterval is how often a running batch fragment reloads itself.
const PollInterval = "2s"

// BatchStatus renders a progress bar for a run. While the run is active the
// fragment polls its own URL and replaces itself.
func BatchStatus(p batch.Progress, url string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		id := templ.EscapeString(p.ID)
		state := "running"
		switch {
		case p.Error != "" && p.Done:
			state = "failed"
		case p.Done:
			state = "done"
		}

		trigger := ""
		if !p.Done {
			trigger = fmt.Sprintf(` hx-get="%s" hx-trigger="every %s" hx-swap="outerHTML"`, templ.EscapeString(url), PollInterval)
		}
		if _, err := fmt.Fprintf(w, `<div id="batch-%s" class="batch-status batch-%s"%s>`, id, state, trigger); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<progress max="100" value="%d">%d%%</progress>`, p.Percent(), p.Percent()); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, `<p class="batch-counts">%d / %d processed, %d failed</p>`, p.Progress, p.ItemCount, p.Failed); err != nil {
			return err
		}
		if p.Error != "" {
			if _, err := fmt.Fprintf(w, `<p class="batch-error">%s</p>`, templ.EscapeString(p.Error)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</div>`)
		return err
	})
}

// ErrorAlert renders a user-facing error.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<div class="alert alert-error" role="alert"><p>%s</p>`, templ.EscapeString(message)); err != nil {
			return err
		}
		if action != "" {
			if _, err := fmt.Fprintf(w, `<p class="alert-action">%s</p>`, templ.EscapeString(action)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<small>Code: %s</small></div>`, templ.EscapeString(code))
		return err
	})
}
