package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// dashboardHTML is the static admin page. The control plane itself is the
// JSON API; this document just points a browser at it.
const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>apidouble admin</title>
<style>
 body { font-family: ui-monospace, monospace; margin: 2rem; color: #222; }
 h1 { font-size: 1.2rem; }
 table { border-collapse: collapse; }
 td, th { border: 1px solid #ccc; padding: .3rem .6rem; text-align: left; }
 code { background: #f4f4f4; padding: 0 .2rem; }
</style>
</head>
<body>
<h1>apidouble</h1>
<p>In-band control plane. All endpoints live under the <code>/__</code> prefix
and bypass chaos and the mode pipeline.</p>
<table>
<tr><th>Endpoint</th><th>Method</th><th>Effect</th></tr>
<tr><td><code>/__health</code></td><td>GET</td><td>liveness, mode, uptime</td></tr>
<tr><td><code>/__status</code></td><td>GET</td><td>mode, target, entry count, port</td></tr>
<tr><td><code>/__mocks</code></td><td>GET</td><td>list recorded entries</td></tr>
<tr><td><code>/__mocks</code></td><td>POST</td><td>seed an entry</td></tr>
<tr><td><code>/__mocks</code></td><td>DELETE</td><td>clear all entries</td></tr>
<tr><td><code>/__mocks/:id</code></td><td>GET / DELETE</td><td>fetch or delete one entry</td></tr>
<tr><td><code>/__mocks/search</code></td><td>GET</td><td>filter by method and path glob</td></tr>
<tr><td><code>/__mode</code></td><td>POST</td><td>switch mode / target</td></tr>
<tr><td><code>/__chaos</code></td><td>GET / POST</td><td>chaos stats / toggle</td></tr>
<tr><td><code>/__chaos/latency</code></td><td>POST</td><td>set default latency</td></tr>
<tr><td><code>/__chaos/error</code></td><td>POST</td><td>set default error injection</td></tr>
</table>
</body>
</html>`

func (a *admin) dashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
}
