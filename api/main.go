package main

import (
	"github.com/joho/godotenv"

	"github.com/imagedesk/imagedesk/api/cmd/imagedesk"
)

func main() {
	_ = godotenv.Load()
	imagedesk.Execute()
}
