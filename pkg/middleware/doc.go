// Package middleware はremindサービスで共通利用するGinミドルウェアを提供する。
// JWT認証、パニック回復、CORSの3種類を実装する。
package middleware
