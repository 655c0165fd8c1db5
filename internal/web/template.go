package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/ecu-timing/internal/status"
	"github.com/sweeney/ecu-timing/internal/trigger"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>ECU Timing</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.yes { color: green; font-weight: bold; }
.no { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>ECU Timing<span id="live-dot" class="live-dot" title="connecting"></span></h1>

<h2>Position</h2>
<table>
<tr><th>Crank sync</th><td id="synced" class="{{yesno .Position.Synced}}">{{yesno .Position.Synced}}</td></tr>
<tr><th>Cam sync</th><td id="cam-synced" class="{{yesno .Position.CamSynced}}">{{yesno .Position.CamSynced}}</td></tr>
<tr><th>Phase</th><td id="phase">{{.Position.Phase}}</td></tr>
<tr><th>RPM</th><td id="rpm">{{.Position.RPM.RPM}}</td></tr>
<tr><th>Tooth</th><td id="tooth">{{.Position.Tooth}}</td></tr>
<tr><th>Crank angle</th><td id="crank-angle">{{.Position.CrankAngle}}</td></tr>
<tr><th>Cycle angle</th><td id="cycle-angle">{{.Position.CycleAngle}}</td></tr>
<tr><th>VVT</th><td id="vvt">{{.Position.VVT.Position}} / {{.Position.VVT.Target}}</td></tr>
</table>

<h2>Diagnostics</h2>
<table>
{{range .Diagnostics}}<tr><th>{{.Name}}</th><td id="diag-{{.Name}}">{{.Count}}</td></tr>
{{end}}</table>

<h2>Scheduler</h2>
<table>
<tr><th>Scheduled</th><td>{{.Scheduler.Scheduled}}</td></tr>
<tr><th>Fired</th><td>{{.Scheduler.Fired}}</td></tr>
<tr><th>Missed</th><td>{{.Scheduler.Missed}}</td></tr>
<tr><th>Active</th><td>{{.Scheduler.Active}}</td></tr>
<tr><th>Timers armed</th><td>{{.Timer.Armed}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Wheel</th><td>{{.Config.Wheel}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function set(id, v) {
    var el = document.getElementById(id);
    if (el) el.textContent = v;
  }
  function flag(id, b) {
    var el = document.getElementById(id);
    if (!el) return;
    el.textContent = b ? "yes" : "no";
    el.className = b ? "yes" : "no";
  }
  function connect() {
    var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
    ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
    ws.onclose = function() {
      dot.className = "live-dot err"; dot.title = "offline";
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(m) {
      try {
        var s = JSON.parse(m.data).status, p = s.position;
        flag("synced", p.synced);
        flag("cam-synced", p.cam_synced);
        set("phase", p.phase);
        set("rpm", p.rpm);
        set("tooth", p.tooth);
        set("crank-angle", p.crank_angle);
        set("cycle-angle", p.cycle_angle);
        set("vvt", s.vvt.position + " / " + s.vvt.target);
        for (var k in s.diagnostics) set("diag-" + k, s.diagnostics[k]);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

type diagRow struct {
	Name  string
	Count uint32
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime      time.Duration
		Diagnostics []diagRow
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	for _, e := range trigger.ErrorTypes {
		data.Diagnostics = append(data.Diagnostics, diagRow{Name: string(e), Count: snap.Position.Diag.Count(e)})
	}
	indexTmpl.Execute(w, data)
}
