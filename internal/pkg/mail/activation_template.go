package mail

import (
	"bytes"
	"html/template"
)

const activationSubject = "Your eSIM is ready to install"

var activationTemplate = template.Must(template.New("activation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Hi {{.CustomerName}},</h2>
  <p>Your eSIM for order <strong>{{.TransactionID}}</strong> is ready.</p>
  <table cellpadding="6">
    <tr><td>ICCID</td><td><code>{{.Confirmation.ICCID}}</code></td></tr>
    <tr><td>SM-DP+ address</td><td><code>{{.Confirmation.SMDPAddress}}</code></td></tr>
    <tr><td>Activation code</td><td><code>{{.Confirmation.ActivationCode}}</code></td></tr>
  </table>
  <p>Open your phone's mobile data settings, choose "Add eSIM" and enter the details above.</p>
</body>
</html>`))

func renderActivationEmail(msg ActivationEmail) (string, error) {
	var buf bytes.Buffer
	if err := activationTemplate.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}
