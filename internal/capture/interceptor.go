package capture

import "fmt"

// jsInterceptor wraps the page's fetch and XMLHttpRequest entry points in
// the MAIN world. It must stay strictly pass-through: the original caller
// always receives the untouched response, and bodies are read from a
// clone so the caller's stream stays fresh. Every speculative read sits
// inside a try/catch — an interceptor failure must never surface in the
// host page.
//
// %[1]s = binding name, %[2]s = session token.
const jsInterceptor = `(function() {
  if (window.__x402Hooked) return;
  window.__x402Hooked = true;

  function relay(msg) {
    try {
      msg.token = %[2]q;
      msg.type = "X402_CAPTURED";
      if (typeof window[%[1]q] === "function") {
        window[%[1]q](JSON.stringify(msg));
      }
    } catch (err) {
      console.debug("x402 relay error:", err);
    }
  }

  var originalFetch = window.fetch;
  window.fetch = async function() {
    var args = arguments;
    var response = await originalFetch.apply(this, args);
    if (response.status === 402) {
      try {
        var method = "GET";
        if (args[1] && args[1].method) method = args[1].method;
        else if (args[0] && args[0].method) method = args[0].method;
        var clone = response.clone();
        var bodyText = await clone.text();
        relay({
          url: response.url,
          status: response.status,
          method: method,
          headers: Object.fromEntries(response.headers.entries()),
          body: bodyText,
          source: "interceptor"
        });
      } catch (err) {
        console.debug("x402 fetch interceptor error:", err);
      }
    }
    return response;
  };

  var originalOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function(method, url) {
    this.__x402Method = method;
    this.__x402URL = url;
    return originalOpen.apply(this, arguments);
  };

  var originalSend = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.send = function() {
    var xhr = this;
    xhr.addEventListener("load", function() {
      if (xhr.status !== 402) return;
      try {
        var headers = {};
        var raw = xhr.getAllResponseHeaders();
        raw.trim().split(/[\r\n]+/).forEach(function(line) {
          var idx = line.indexOf(": ");
          if (idx > 0) headers[line.slice(0, idx)] = line.slice(idx + 2);
        });
        relay({
          url: xhr.responseURL || String(xhr.__x402URL || ""),
          status: xhr.status,
          method: String(xhr.__x402Method || "GET"),
          headers: headers,
          body: typeof xhr.responseText === "string" ? xhr.responseText : "",
          source: "interceptor"
        });
      } catch (err) {
        console.debug("x402 xhr interceptor error:", err);
      }
    }, { once: true });
    return originalSend.apply(this, arguments);
  };
})();`

// InterceptorScript renders the fetch/XHR wrapper bound to the bridge's
// binding name and session token.
func InterceptorScript(bindingName, token string) string {
	return fmt.Sprintf(jsInterceptor, bindingName, token)
}
