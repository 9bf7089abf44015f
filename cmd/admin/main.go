package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/modernapi/internal/admin"
)

func main() {
	if err := admin.NewRootCommand(admin.LoadCore).ExecuteContext(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
}
