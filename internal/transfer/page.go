package transfer

import (
	"fmt"
	"html/template"
	"io"
	"net/url"

	pkgerrors "github.com/pulsarhq/licensing-backend/pkg/errors"
)

var acceptPageTemplate = template.Must(template.New("accept").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Complete your license transfer</title>
  <style>
    body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 4rem auto; max-width: 32rem; text-align: center; color: #1a1a2e; }
    a.button { display: inline-block; margin-top: 1.5rem; padding: .75rem 1.5rem; border-radius: .5rem; background: #3b5bdb; color: #fff; text-decoration: none; }
    p.hint { color: #6b7280; font-size: .875rem; }
  </style>
</head>
<body>
  <h1>Finish your transfer</h1>
  <p>Opening the desktop app to complete the license transfer&hellip;</p>
  <a class="button" href="{{.DeepLink}}">Open the app</a>
  <p class="hint">Nothing happening? Make sure the app is installed on this device, then click the button above.</p>
  <script>window.location.href = {{.DeepLink}};</script>
</body>
</html>
`))

type acceptPageData struct {
	DeepLink string
}

// AcceptPage renders the landing page that hands the transfer token to the
// desktop app through a deep link. It never touches stored state.
func (s *Service) AcceptPage(w io.Writer, deviceHash, token string) error {
	if deviceHash == "" || token == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidRequest, "device_hash and token are required")
	}

	query := url.Values{}
	query.Set("device_hash", deviceHash)
	query.Set("token", token)
	deepLink := fmt.Sprintf("%s://accept-transfer?%s", s.appScheme, query.Encode())

	if err := acceptPageTemplate.Execute(w, acceptPageData{DeepLink: deepLink}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "rendering transfer accept page")
	}
	return nil
}
