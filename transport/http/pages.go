package http

import "html/template"

// resultPage is shown to the wallet's browser after the callback.
// On success it stores the session for the frontend and forwards to the dashboard.
var resultPage = template.Must(template.New("result").Parse(`<html>
  <body style="background: #000; color: #0f0; font-family: monospace; text-align: center; padding: 2rem;">
{{- if .OK}}
    <h1>AUTHENTICATION SUCCESSFUL</h1>
    <p>Welcome, {{.Username}}!</p>
    <p>Auth47 proof verified successfully</p>
    <p>Redirecting to dashboard...</p>
    <script>
      localStorage.setItem('authToken', {{.Token}});
      localStorage.setItem('user', JSON.stringify({username: {{.Username}}, publicKey: {{.PublicKey}}}));
      setTimeout(function () { window.location.href = {{.DashboardURL}}; }, 2000);
    </script>
{{- else}}
    <h1>AUTHENTICATION FAILED</h1>
    <p>Invalid proof: {{.Error}}</p>
    <a href="{{.RetryURL}}" style="color: #0f0;">Try Again</a>
{{- end}}
  </body>
</html>
`))

type resultView struct {
	OK           bool
	Username     string
	PublicKey    string
	Token        string
	DashboardURL string
	RetryURL     string
	Error        string
}
