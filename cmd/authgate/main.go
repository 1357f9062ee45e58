// Command authgate は認証ゲートウェイを起動する。
//
// サブコマンド:
//
//	serve        APIサーバー（デフォルト）
//	worker       メール確認トークンのクリーンアップ
//	migrate      データベースマイグレーション
//	healthcheck  /health への疎通確認（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/authgate/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
