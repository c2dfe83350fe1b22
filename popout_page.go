package main

// popoutPageHTML is the detached viewer served at /popout. It is a
// self-contained page so the viewer works in any external browser
// without shipping frontend assets over the loopback server.
const popoutPageHTML = `<!DOCTYPE html>
<html lang="ko">
<head>
<meta charset="utf-8">
<title>번역 보기</title>
<style>
  body { margin: 0; font-family: sans-serif; background: #1b2636; color: #e8e8e8; }
  #status { position: fixed; top: 0; left: 0; right: 0; padding: 6px 12px;
            background: #24344d; font-size: 13px; z-index: 10; }
  #pages { padding: 48px 24px 24px; max-width: 860px; margin: 0 auto; }
  .page { margin-bottom: 32px; }
  .page h3 { color: #8fb3e8; border-bottom: 1px solid #33465f; padding-bottom: 4px; }
  .seg { margin: 10px 0; padding: 8px 10px; background: #223047; border-radius: 6px; }
  .seg.heading { font-weight: bold; font-size: 1.1em; }
  .seg.equation, .seg.code { font-family: monospace; background: #1d2940; }
  .seg .orig { color: #8a97a8; font-size: 0.85em; margin-top: 4px; }
</style>
</head>
<body>
<div id="status">연결 중...</div>
<div id="pages"></div>
<script>
(function () {
  var statusEl = document.getElementById("status");
  var pagesEl = document.getElementById("pages");
  var pageDivs = {};

  function renderPage(payload) {
    var div = pageDivs[payload.page_index];
    if (!div) {
      div = document.createElement("div");
      div.className = "page";
      pageDivs[payload.page_index] = div;
      var keys = Object.keys(pageDivs).map(Number).sort(function (a, b) { return a - b; });
      var next = null;
      for (var i = 0; i < keys.length; i++) {
        if (keys[i] > payload.page_index) { next = pageDivs[keys[i]]; break; }
      }
      pagesEl.insertBefore(div, next);
    }
    var html = "<h3>" + payload.page_index + "페이지</h3>";
    (payload.segments || []).forEach(function (s) {
      html += '<div class="seg ' + s.type + '">' + s.translated +
              '<div class="orig">' + s.original + "</div></div>";
    });
    div.innerHTML = html;
  }

  function applyScroll(fraction) {
    var max = document.documentElement.scrollHeight - window.innerHeight;
    if (max > 0) window.scrollTo(0, fraction * max);
  }

  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onopen = function () { statusEl.textContent = "호스트 창과 연결됨"; };
  ws.onclose = function () { statusEl.textContent = "연결이 끊어졌습니다"; };
  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.kind === "scroll") applyScroll(msg.payload.fraction);
    else if (msg.kind === "pages") renderPage(msg.payload);
    else if (msg.kind === "state") statusEl.textContent =
      msg.payload.message + " (" + msg.payload.progress + "%)";
    else if (msg.kind === "document") { pagesEl.innerHTML = ""; pageDivs = {}; }
  };
})();
</script>
</body>
</html>
`
