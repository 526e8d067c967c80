package api

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/logger"
)

var statusPage = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>DESCO Monitor</title>
<style>
body { font-family: system-ui; max-width: 760px; margin: 40px auto; padding: 0 20px; }
table { border-collapse: collapse; width: 100%; }
td { padding: 6px 8px; border-bottom: 1px solid #ddd; }
td:first-child { color: #555; width: 40%; }
.err { color: #b00020; }
button { margin-right: 8px; padding: 6px 14px; }
</style>
</head>
<body>
<h1>DESCO Balance Monitor</h1>
<p>Account {{.Config.Account.AccountNo}} &middot; Meter {{.Config.Account.MeterNo}} &middot; daily at {{.Config.Schedule.Time}} ({{.Config.Schedule.Timezone}})</p>
<table>
<tr><td>Monitoring</td><td>{{if .Status.MonitoringActive}}Active ({{.Status.SchedulerState}}){{else}}Stopped{{end}}</td></tr>
<tr><td>Last status</td><td>{{.Status.State}}{{if .Status.Skipped}} (already recorded){{end}}</td></tr>
<tr><td>Target date</td><td>{{.Status.TargetDate}}</td></tr>
<tr><td>Last run</td><td>{{with .Status.LastRun}}{{.}}{{else}}never{{end}}</td></tr>
<tr><td>Next run</td><td>{{with .Status.NextRun}}{{.}}{{else}}&mdash;{{end}}</td></tr>
<tr><td>Balance</td><td>{{with .Status.LastBalance}}{{.}} BDT{{else}}&mdash;{{end}}</td></tr>
<tr><td>Daily consumption</td><td>{{with .Status.LastConsumption}}{{.}} BDT{{else}}&mdash;{{end}}</td></tr>
{{range .Status.Errors}}<tr><td>Error</td><td class="err">{{.}}</td></tr>
{{end}}</table>
<p>
<button onclick="post('/api/monitoring/start')">Start monitoring</button>
<button onclick="post('/api/monitoring/stop')">Stop monitoring</button>
<button onclick="post('/api/run')">Run now</button>
</p>
<p><a href="/api/ledger">Ledger</a> &middot; <a href="/api/runs">Run history</a> &middot; <a href="/api/config">Configuration</a> &middot; <a href="/metrics">Metrics</a></p>
<script>
function post(path) {
  fetch(path, {method: 'POST'}).then(function (r) { return r.json(); }).then(function (body) {
    if (body.error) { alert(body.error + (body.details ? ': ' + JSON.stringify(body.details) : '')); }
    location.reload();
  });
}
</script>
</body>
</html>
`))

type pageData struct {
	Status StatusDTO
	Config ConfigDTO
}

// Index renders the HTML status page.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Status: h.status(r.Context()),
		Config: toConfigDTO(h.Config()),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, data); err != nil {
		logger.FromContext(r.Context()).Error("render status page", zap.Error(err))
	}
}
