//go:build !tinygo

package portal

import "html/template"

const style = `body{font-family:-apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica,Arial,sans-serif;margin:0;padding:16px;background:#f5f5f7;color:#111}
h1{font-size:24px;margin-bottom:4px}
h2{font-size:18px;margin-top:24px;margin-bottom:8px}
.card{background:#fff;border-radius:12px;padding:16px;margin-bottom:16px;box-shadow:0 4px 12px rgba(0,0,0,0.08)}
label{display:block;font-size:14px;margin:8px 0 4px}
input[type=text],input[type=password]{width:100%;padding:8px 10px;border-radius:8px;border:1px solid #ccc;font-size:14px;box-sizing:border-box}
input[type=file]{margin:8px 0}
button,input[type=submit]{background:#111;color:#fff;border:none;border-radius:999px;padding:10px 18px;font-size:14px;cursor:pointer;margin-top:8px}
.status{font-size:14px;color:#555}
.badge{display:inline-block;border-radius:999px;padding:4px 10px;font-size:11px;text-transform:uppercase;letter-spacing:.08em;background:#111;color:#fff}
.hint{margin-top:8px;font-size:12px;color:#777}
pre{font-size:12px;white-space:pre-wrap}`

const pages = `
{{define "head"}}<!DOCTYPE html><html><head><meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
{{end}}

{{define "root"}}{{template "head"}}<title>TigerMeter Portal</title><style>{{style}}</style></head><body>
<h1>TigerMeter</h1>
<div class="status">Captive portal on <strong>{{.APName}}</strong></div>
<div class="card"><h2>Device</h2>
<div>State: <span class="badge">{{.Snapshot.State}}</span></div>
{{with .Snapshot.DeviceID}}<div>Device ID: {{.}}</div>{{end}}
{{with .Snapshot.ClaimCode}}<div>Claim code: <strong>{{.}}</strong></div>{{end}}
<div>Firmware version: <span class="badge">v{{.Snapshot.Firmware}}</span></div>
{{if gt .Snapshot.LatestVersion 0}}<div>Latest version: v{{.Snapshot.LatestVersion}}</div>{{end}}
{{if .Snapshot.UpdateInProgress}}<div>Update in progress: {{.Snapshot.UpdatePercent}}%</div>{{end}}
{{with .Snapshot.LastError}}<div>Last error: {{.}}</div>{{end}}
<div>Wi-Fi: {{.WiFi}}</div>
<div>Demo mode: {{if .Snapshot.DemoMode}}on{{else}}off{{end}}</div>
</div>
<div class="card"><h2>Wi-Fi configuration</h2>
<form method="POST" action="/wifi">
<label for="ssid">SSID</label>
<input id="ssid" name="ssid" type="text" autocomplete="off" required>
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="off">
<input type="submit" value="Save &amp; Connect">
</form>
<div class="hint">After saving, the device will try to connect while keeping the {{.APName}} hotspot active.</div>
</div>
<div class="card"><h2>OTA firmware update</h2>
<form method="POST" action="/update" enctype="multipart/form-data">
<label for="firmware">Firmware .bin file</label>
<input id="firmware" name="firmware" type="file" accept=".bin" required>
<input type="submit" value="Upload &amp; Update">
</form>
<form method="POST" action="/force-update"><input type="submit" value="Install latest"></form>
<div class="hint">Device will reboot automatically after a successful update.</div>
</div>
<div class="card"><h2>Maintenance</h2>
<form method="POST" action="/demo-mode"><input type="submit" value="Toggle demo mode"></form>
<form method="POST" action="/reset"><input type="submit" value="Factory reset"></form>
<div class="hint"><a href="/logs">Recent logs</a></div>
</div>
</body></html>{{end}}

{{define "message"}}{{template "head"}}<title>{{.Title}}</title></head><body>
<h1>{{.Title}}</h1>
<p>{{.Text}}</p>
<p><a href="/">Back</a></p>
</body></html>{{end}}

{{define "logs"}}{{template "head"}}<meta http-equiv="refresh" content="3">
<title>TigerMeter logs</title><style>{{style}}</style></head><body>
<h1>Logs</h1>
<div class="card"><pre>{{range .Lines}}{{.}}
{{else}}(empty){{end}}</pre></div>
<p><a href="/">Back</a></p>
</body></html>{{end}}
`

func parsePages() *template.Template {
	return template.Must(template.New("portal").Funcs(template.FuncMap{
		"style": func() template.CSS { return template.CSS(style) },
	}).Parse(pages))
}
