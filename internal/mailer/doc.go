// Package mailer はメール送信コラボレータを提供する。
//
// コアはMailerインターフェース越しに「1通のメールを送る」ことだけを依頼し、
// SMTPの詳細には関与しない。送信エラーは再試行可能なものと恒久的なもの
// （宛先不正やSMTPサーバーによる拒否）に分類され、ディスパッチャの
// リトライ判断に使われる。
package mailer
