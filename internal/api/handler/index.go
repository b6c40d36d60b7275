package handler

import (
	"net/http"

	"github.com/kiranshivaraju/repoanalyst/internal/api/response"
)

// NewIndexHandler returns an http.HandlerFunc for GET /, a single page that
// drives the session endpoints from the browser.
func NewIndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.HTML(w, http.StatusOK, indexPage)
	}
}

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Repository Analyst</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; }
#status { color: #555; }
#error, .error { color: #b00020; }
pre { white-space: pre-wrap; background: #f6f8fa; padding: 1rem; }
</style>
</head>
<body>
<h1>Repository Analyst</h1>
<form id="analyze">
  <input id="github_url" type="url" placeholder="https://github.com/owner/repo" size="50" required>
  <button id="submit" type="submit">Analyze</button>
</form>
<p id="status"></p>
<p id="error"></p>
<div id="report"></div>
<script>
const pollEvery = 5000;
const form = document.getElementById("analyze");
const input = document.getElementById("github_url");
const button = document.getElementById("submit");
const statusEl = document.getElementById("status");
const errorEl = document.getElementById("error");
const reportEl = document.getElementById("report");
let timer = null;

function show(state) {
  input.disabled = !state.input_enabled;
  button.disabled = !state.input_enabled;
  button.textContent = state.loading ? "Analyzing..." : "Analyze";
  statusEl.textContent = state.status_text || "";
  errorEl.textContent = state.error_text || "";
  if (state.report_html) {
    reportEl.innerHTML = state.report_html;
  } else if (state.phase === "failed") {
    reportEl.innerHTML = '<p class="error">Analysis Failed:</p><pre></pre>';
    reportEl.querySelector("pre").textContent = state.failure_text || "";
  }
}

async function poll(id) {
  const res = await fetch("/api/v1/sessions/" + id);
  if (!res.ok) {
    clearInterval(timer);
    errorEl.textContent = "Error fetching job status.";
    input.disabled = button.disabled = false;
    return;
  }
  const body = await res.json();
  show(body.data.state);
  if (body.data.state.input_enabled) {
    clearInterval(timer);
  }
}

form.addEventListener("submit", async (e) => {
  e.preventDefault();
  const url = input.value.trim();
  if (!url) return;
  clearInterval(timer);
  reportEl.innerHTML = "";
  errorEl.textContent = "";
  statusEl.textContent = "Submitting job...";
  input.disabled = button.disabled = true;
  const res = await fetch("/api/v1/sessions", {
    method: "POST",
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify({ github_url: url }),
  });
  const body = await res.json();
  if (!res.ok) {
    statusEl.textContent = "";
    errorEl.textContent = body.error.message;
    input.disabled = button.disabled = false;
    return;
  }
  show(body.data.state);
  timer = setInterval(() => poll(body.data.session_id), pollEvery);
});
</script>
</body>
</html>
`
