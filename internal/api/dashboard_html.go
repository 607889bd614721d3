package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>dbmesh proxy status</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root{
  --bg:#0f1117;--bg-card:#161b22;--border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;
  --primary:#58a6ff;--green:#3fb950;--red:#f85149;--radius:8px;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
a{color:var(--primary);text-decoration:none}
.container{max-width:1100px;margin:0 auto;padding:24px}
header{display:flex;align-items:center;gap:16px;margin-bottom:24px;flex-wrap:wrap}
header h1{font-size:20px;font-weight:700}
.badge{display:inline-flex;align-items:center;gap:4px;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border)}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.dot{width:8px;height:8px;border-radius:50%;display:inline-block}
.dot-green{background:var(--green)}.dot-red{background:var(--red)}.dot-gray{background:var(--text-muted)}
.summary{display:grid;grid-template-columns:repeat(4,1fr);gap:16px;margin-bottom:24px}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:16px}
.card-label{font-size:12px;text-transform:uppercase;letter-spacing:.5px;color:var(--text-muted);margin-bottom:4px}
.card-value{font-size:28px;font-weight:700}
.table-wrap{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);overflow:auto}
table{width:100%;border-collapse:collapse;font-size:14px}
th{text-align:left;padding:10px 14px;font-weight:600;color:var(--text-muted);border-bottom:1px solid var(--border);font-size:12px;text-transform:uppercase}
td{padding:10px 14px;border-bottom:1px solid var(--border)}
tr:last-child td{border-bottom:none}
.empty-state{text-align:center;color:var(--text-muted);padding:40px}
footer{margin-top:16px;color:var(--text-muted);font-size:12px}
</style>
</head>
<body>
<div class="container">
  <header>
    <h1>dbmesh proxy</h1>
    <span class="badge" id="overallBadge"><span class="dot dot-gray"></span> loading</span>
    <a href="/metrics" style="margin-left:auto">Prometheus metrics</a>
  </header>

  <div class="summary">
    <div class="card"><div class="card-label">Segments</div><div class="card-value" id="statSegments">-</div></div>
    <div class="card"><div class="card-label">Active conns</div><div class="card-value" id="statActive">-</div></div>
    <div class="card"><div class="card-label">Uptime</div><div class="card-value" id="statUptime">-</div></div>
    <div class="card"><div class="card-label">Goroutines</div><div class="card-value" id="statGoroutines">-</div></div>
  </div>

  <div class="table-wrap">
    <table>
      <thead>
        <tr><th>Segment</th><th>Role</th><th>Host</th><th>Health</th><th>Active</th><th>Idle</th><th>Waiting</th><th>Exhausted</th></tr>
      </thead>
      <tbody id="segmentTableBody">
        <tr><td colspan="8" class="empty-state">Loading...</td></tr>
      </tbody>
    </table>
  </div>
  <footer id="footer"></footer>
</div>

<script>
(function() {
  function fmtUptime(seconds) {
    seconds = Math.floor(seconds || 0);
    var d = Math.floor(seconds / 86400); seconds %= 86400;
    var h = Math.floor(seconds / 3600); seconds %= 3600;
    var m = Math.floor(seconds / 60);
    if (d > 0) return d + 'd ' + h + 'h';
    if (h > 0) return h + 'h ' + m + 'm';
    return m + 'm';
  }

  function renderSegments(segments) {
    var tbody = document.getElementById('segmentTableBody');
    var names = Object.keys(segments || {});
    if (names.length === 0) {
      tbody.innerHTML = '<tr><td colspan="8" class="empty-state">No segments configured</td></tr>';
      return;
    }
    tbody.innerHTML = names.map(function(name) {
      var s = segments[name];
      var healthy = s.health && s.health.status === 'healthy';
      var dotClass = s.health && s.health.status === 'unhealthy' ? 'dot-red' : (healthy ? 'dot-green' : 'dot-gray');
      var stats = s.stats || {};
      return '<tr>' +
        '<td>' + name + '</td>' +
        '<td>' + (s.meta ? 'meta' : 'data') + '</td>' +
        '<td>' + (s.host || '') + ':' + (s.port || '') + '</td>' +
        '<td><span class="dot ' + dotClass + '"></span> ' + (s.health ? s.health.status : 'unknown') + '</td>' +
        '<td>' + (stats.active || 0) + '</td>' +
        '<td>' + (stats.idle || 0) + '</td>' +
        '<td>' + (stats.waiting || 0) + '</td>' +
        '<td>' + (stats.pool_exhausted_total || 0) + '</td>' +
        '</tr>';
    }).join('');
  }

  function refresh() {
    fetch('/segments').then(function(r) { return r.json(); }).then(function(segments) {
      var names = Object.keys(segments || {});
      document.getElementById('statSegments').textContent = names.length;
      var active = 0;
      names.forEach(function(n) { active += (segments[n].stats && segments[n].stats.active) || 0; });
      document.getElementById('statActive').textContent = active;
      renderSegments(segments);
    }).catch(function() {});

    fetch('/status').then(function(r) { return r.json(); }).then(function(s) {
      document.getElementById('statUptime').textContent = fmtUptime(s.uptime_seconds);
      document.getElementById('statGoroutines').textContent = s.goroutines;
      document.getElementById('footer').textContent = 'dbmesh proxy ' + s.go_version + ' · listening on :' + s.mysql_port;
    }).catch(function() {});

    fetch('/health').then(function(r) { return r.json(); }).then(function(h) {
      var badge = document.getElementById('overallBadge');
      var healthy = h.status === 'healthy';
      badge.className = 'badge ' + (healthy ? 'badge-healthy' : 'badge-unhealthy');
      badge.innerHTML = '<span class="dot ' + (healthy ? 'dot-green' : 'dot-red') + '"></span> ' + h.status;
    }).catch(function() {});
  }

  refresh();
  setInterval(refresh, 5000);
})();
</script>
</body>
</html>`
