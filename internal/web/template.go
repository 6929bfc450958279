package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sweeney/nexus-sensor/internal/ook"
	"github.com/sweeney/nexus-sensor/internal/status"
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
	"reason": func(i int) string {
		return ook.Reason(i).String()
	},
	"celsius": func(deci int16) string {
		return fmt.Sprintf("%.1f", float64(deci)/10)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Nexus Sensor</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.low { color: orange; }
.unknown { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Nexus Sensor{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Last Reading</h2>
{{with .LastReading}}<table>
<tr><th>Temperature</th><td id="temperature">{{celsius .Reading.TemperatureDeci}} &deg;C</td></tr>
<tr><th>Humidity</th><td id="humidity">{{.Reading.Humidity}} %</td></tr>
<tr><th>Sensor</th><td>id {{.Reading.ID}}, channel {{.Reading.DisplayChannel}}</td></tr>
<tr><th>Battery</th><td>{{if .Reading.BatteryOK}}ok{{else}}low{{end}}</td></tr>
<tr><th>Received</th><td id="received" class="{{if eq (printf "%s" .Type) "READING_LOW_CONFIDENCE"}}low{{end}}">{{.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}} ({{.Repeats}} repeats)</td></tr>
</table>{{else}}<p class="unknown">No reading yet{{if $.Listening}} (receiving){{end}}</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic</th><td>{{.Config.Topic}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Decoder</h2>
<table>
<tr><th>Edges</th><td>{{.Decoder.Edges}}</td></tr>
<tr><th>Preambles</th><td>{{.Decoder.Preambles}}</td></tr>
<tr><th>Payloads</th><td>{{.Decoder.Payloads}}</td></tr>
{{range $i, $n := .Decoder.Errors}}<tr><th>Error: {{reason $i}}</th><td>{{$n}}</td></tr>
{{end}}<tr><th>Queue drops</th><td>{{.Decoder.Dropped}}</td></tr>
<tr><th>Rejected</th><td>{{.Rejected}}</td></tr>
</table>

<h2>Readings</h2>
<table>
<tr><th>Candidates</th><td>{{.Counts.Candidates}}</td></tr>
<tr><th>Confirmed</th><td>{{.Counts.Confirmed}}</td></tr>
<tr><th>Low confidence</th><td>{{.Counts.LowConfidence}}</td></tr>
<tr><th>Suppressed</th><td>{{.Counts.Suppressed}}</td></tr>
<tr><th>Duplicates</th><td>{{.Counts.Duplicates}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Source</th><td>{{.Config.Source}}</td></tr>
<tr><th>Threshold</th><td>{{.Config.Threshold}} repeats in {{.Config.WindowMs}}ms ({{.Config.Fallback}} on timeout)</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.Topic}}";
  var dot = document.getElementById("live-dot");

  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      setText("temperature", msg.temperature_C.toFixed(1) + " °C");
      setText("humidity", msg.humidity + " %");
      setText("received", msg.time + " UTC");
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Warn("web: render index", "err", err)
	}
}
