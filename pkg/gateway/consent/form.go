// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package consent

import (
	"html/template"
	"io"
)

// FormData is what the consent form template needs to render.
type FormData struct {
	// ClientName is the display name of the requesting client.
	ClientName string

	// Scopes are the scopes the client asked for.
	Scopes []string

	// Request is the encoded pending authorization request, round-tripped
	// through the form as a hidden field.
	Request string
}

// html/template autoescapes all interpolations, so client-controlled names
// and scopes cannot inject markup.
var formTemplate = template.Must(template.New("consent").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Authorize {{.ClientName}}</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; }
    ul { padding-left: 1.25rem; }
    button { padding: 0.5rem 1.5rem; margin-right: 0.5rem; }
  </style>
</head>
<body>
  <h1>Authorize {{.ClientName}}</h1>
  <p><strong>{{.ClientName}}</strong> is requesting access to:</p>
  <ul>
    {{range .Scopes}}<li><code>{{.}}</code></li>{{else}}<li>basic sign-in</li>{{end}}
  </ul>
  <form method="post">
    <input type="hidden" name="request" value="{{.Request}}">
    <button type="submit" name="decision" value="approve">Approve</button>
    <button type="submit" name="decision" value="deny">Deny</button>
  </form>
</body>
</html>
`))

// RenderForm writes the consent form HTML.
func RenderForm(w io.Writer, data *FormData) error {
	return formTemplate.Execute(w, data)
}
