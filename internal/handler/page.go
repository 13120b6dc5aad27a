package handler

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	appI18n "github.com/wordquiz/wordquiz/internal/i18n"
	"github.com/wordquiz/wordquiz/internal/share"
)

const pageStyle = `body{font-family:sans-serif;max-width:36rem;margin:3rem auto;padding:0 1rem;color:#222}` +
	`h1{font-size:1.6rem}.meta{color:#555}pre{background:#f4f4f4;padding:.75rem;overflow-x:auto}` +
	`.error{color:#a00}`

// page wraps body in the shared HTML shell.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8">`+
			`<meta name="viewport" content="width=device-width, initial-scale=1">`+
			`<title>%s</title><style>%s</style></head><body>`,
			templ.EscapeString(title), pageStyle); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func landingPage(res *share.Resolution, link string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		q := res.Quiz
		lines := []string{
			appI18n.Td(ctx, "SharedBy", map[string]any{"Teacher": res.TeacherName}),
			appI18n.Tp(ctx, "ProblemCount", len(q.Problems)),
			appI18n.Tp(ctx, "AttemptsLeft", res.RemainingAttempts),
		}
		if q.TimerEnabled && q.TimerSeconds != nil {
			lines = append(lines, appI18n.Td(ctx, "TimeLimit", map[string]any{"Seconds": *q.TimerSeconds}))
		}
		if _, err := fmt.Fprintf(w, `<h1>%s</h1>`, templ.EscapeString(q.Title)); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := fmt.Fprintf(w, `<p class="meta">%s</p>`, templ.EscapeString(l)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<p>%s</p><pre>wordquiz take --share %s</pre>`,
			templ.EscapeString(appI18n.T(ctx, "LandingCommand")), templ.EscapeString(link))
		return err
	})
	return page(res.Quiz.Title, body)
}

func errorPage(msgID string) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<h1>%s</h1><p class="error">%s</p>`,
			templ.EscapeString(appI18n.T(ctx, "AppTitle")), templ.EscapeString(appI18n.T(ctx, msgID)))
		return err
	})
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return page(appI18n.T(ctx, "AppTitle"), body).Render(ctx, w)
	})
}
