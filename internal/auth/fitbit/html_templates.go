package fitbit

import (
	"fmt"
	"html"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// loginSuccessHTML is shown in the user's browser after the provider
// redirects back with an authorization code.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Successful</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f7f6;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 4px 14px rgba(0,0,0,0.08);
            max-width: 480px;
        }
        h1 { color: #10b981; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authentication Successful!</h1>
        <p>You can close this window and return to your application.</p>
    </div>
    <script>setTimeout(() => window.close(), 5000);</script>
</body>
</html>`

// loginErrorHTML is shown when the provider reports an error or the
// callback request is missing required parameters. %s is the escaped
// error message.
const loginErrorHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Error</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f7f6;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 4px 14px rgba(0,0,0,0.08);
            max-width: 480px;
        }
        h1 { color: #dc2626; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authentication Error</h1>
        <p>%s</p>
        <p>You can close this window and try again.</p>
    </div>
    <script>setTimeout(() => window.close(), 10000);</script>
</body>
</html>`

func writeSuccessPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(loginSuccessHTML)); err != nil {
		log.Errorf("Failed to write success page: %v", err)
	}
}

func writeErrorPage(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	page := fmt.Sprintf(loginErrorHTML, html.EscapeString(message))
	if _, err := w.Write([]byte(page)); err != nil {
		log.Errorf("Failed to write error page: %v", err)
	}
}
