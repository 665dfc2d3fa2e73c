package httpapi

import (
	"html/template"
	"net/http"

	"github.com/trenner1/bazel-auth-broker/pkg/logger"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>bazel-auth-broker</title></head>
<body>
<h1>bazel-auth-broker</h1>
<p>Exchange your identity provider login for a team-scoped Vault token.</p>
<p><a href="/auth/login">Sign in</a></p>
</body>
</html>
`))

type callbackPageData struct {
	SessionID string
	Team      string
}

var callbackTemplate = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>bazel-auth-broker — signed in</title></head>
<body>
<h1>Signed in</h1>
<p>Team: <strong>{{.Team}}</strong></p>
<p>Session ID:</p>
<pre id="session-id">{{.SessionID}}</pre>
<p>Paste this into your CLI, or run:</p>
<pre>curl -X POST http://localhost:8081/exchange -d '{"session_id":"{{.SessionID}}"}'</pre>
<pre>bazel-auth-cli exchange --session-id {{.SessionID}}</pre>
<script>
(function() {
  var el = document.getElementById("session-id");
  if (navigator.clipboard && el) {
    navigator.clipboard.writeText(el.textContent.trim());
  }
})();
</script>
</body>
</html>
`))

type selectTeamPageData struct {
	SessionID string
	Teams     []string
}

var selectTeamTemplate = template.Must(template.New("select-team").Parse(`<!DOCTYPE html>
<html>
<head><title>bazel-auth-broker — select team</title></head>
<body>
<h1>Select a team</h1>
<p>Your account belongs to more than one team. Choose which one to act as for this session.</p>
<form method="POST" action="/auth/select-team">
<input type="hidden" name="session_id" value="{{.SessionID}}">
<ul>
{{range .Teams}}
<li><label><input type="radio" name="team" value="{{.}}"> {{.}}</label></li>
{{end}}
</ul>
<button type="submit">Continue</button>
</form>
</body>
</html>
`))

func renderHTML(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		logger.Warnw("failed to render html template", "error", err)
	}
}
