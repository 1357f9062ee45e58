package mail

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
)

const welcomeSubject = "%sへようこそ - メールアドレスの確認"
const passwordResetSubject = "パスワードの再設定 - %s"

var welcomeText = texttemplate.Must(texttemplate.New("welcome.txt").Parse(
	`{{.Name}} さん、{{.AppName}}へようこそ。

アカウントの作成が完了しました。
登録メールアドレス: {{.Email}}
{{if .Link}}
すべての機能を利用するには、メールアドレスの確認が必要です。
次のリンクを開いて確認を完了してください。
{{.Link}}

このリンクの有効期限は24時間です。
{{else}}
今すぐサービスをご利用いただけます。
{{end}}
ご不明な点があればお問い合わせください。

---
このメールは送信専用です。返信はできません。
`))

var welcomeHTML = htmltemplate.Must(htmltemplate.New("welcome.html").Parse(
	`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #4CAF50;">{{.Name}} さん、{{.AppName}}へようこそ</h2>
<p>アカウントの作成が完了しました。</p>
<p>登録メールアドレス:</p>
<p style="background-color: #f4f4f4; padding: 10px; border-radius: 5px;"><strong>{{.Email}}</strong></p>
{{if .Link}}
<div style="background-color: #fff3cd; border-left: 4px solid #ffc107; padding: 15px; margin: 20px 0;">
<p style="margin: 0; color: #856404;"><strong>メールアドレスの確認が必要です</strong></p>
<p style="margin: 10px 0 0 0; color: #856404;">すべての機能を利用するには、メールアドレスを確認してください。</p>
</div>
<p style="text-align: center; margin: 30px 0;">
<a href="{{.Link}}" style="background-color: #4CAF50; color: white; padding: 14px 28px; text-decoration: none; border-radius: 5px; display: inline-block; font-weight: bold;">メールアドレスを確認する</a>
</p>
<p style="font-size: 12px; color: #999; word-break: break-all; text-align: center;">{{.Link}}</p>
<p style="font-size: 12px; color: #999; text-align: center;">このリンクの有効期限は24時間です。</p>
{{else}}
<p>今すぐサービスをご利用いただけます。</p>
{{end}}
<p>ご不明な点があればお問い合わせください。</p>
<hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
<p style="font-size: 12px; color: #777;">このメールは送信専用です。返信はできません。</p>
</div>
</body>
</html>
`))

var passwordResetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(
	`パスワードの再設定

パスワードの再設定がリクエストされました。
次のリンクを開いて手続きを進めてください。
{{.Link}}

心当たりがない場合はこのメールを無視してください。
`))

var passwordResetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(
	`<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #4CAF50;">パスワードの再設定</h2>
<p>パスワードの再設定がリクエストされました。</p>
<p style="margin: 20px 0;">
<a href="{{.Link}}" style="background-color: #4CAF50; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px; display: inline-block;">パスワードを再設定する</a>
</p>
<p style="font-size: 12px; color: #777;">心当たりがない場合はこのメールを無視してください。</p>
</div>
</body>
</html>
`))

type templateData struct {
	AppName string
	Name    string
	Email   string
	Link    string
}

// Notifier はテンプレートからメールを組み立てて Sender で送信する。
type Notifier struct {
	sender   Sender
	frontURL string
	appName  string
}

// NewNotifier はNotifierを生成する。frontURL は確認リンクのベースURL。
func NewNotifier(sender Sender, frontURL, appName string) *Notifier {
	return &Notifier{
		sender:   sender,
		frontURL: strings.TrimRight(frontURL, "/"),
		appName:  appName,
	}
}

// SendWelcome は登録完了メールを送信する。token が空でなければ確認リンクを含める。
func (n *Notifier) SendWelcome(ctx context.Context, email, name, token string) error {
	data := templateData{AppName: n.appName, Name: name, Email: email}
	if token != "" {
		data.Link = n.link("/verify-email", token)
	}

	msg, err := render(email, fmt.Sprintf(welcomeSubject, n.appName), welcomeText, welcomeHTML, data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// SendPasswordReset はパスワード再設定メールを送信する。
func (n *Notifier) SendPasswordReset(ctx context.Context, email, token string) error {
	data := templateData{AppName: n.appName, Email: email, Link: n.link("/reset-password", token)}

	msg, err := render(email, fmt.Sprintf(passwordResetSubject, n.appName), passwordResetText, passwordResetHTML, data)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

func (n *Notifier) link(path, token string) string {
	return n.frontURL + path + "?token=" + url.QueryEscape(token)
}

func render(to, subject string, text *texttemplate.Template, html *htmltemplate.Template, data templateData) (Message, error) {
	var textBuf, htmlBuf bytes.Buffer
	if err := text.Execute(&textBuf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", text.Name(), err)
	}
	if err := html.Execute(&htmlBuf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", html.Name(), err)
	}
	return Message{To: to, Subject: subject, TextBody: textBuf.String(), HTMLBody: htmlBuf.String()}, nil
}
