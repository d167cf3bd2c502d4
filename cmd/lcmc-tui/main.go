package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rasto/lcmc-sub001/pkg/client"
)

func main() {
	endpoint := os.Getenv("LCMC_URL")
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8095"
	}
	flag.StringVar(&endpoint, "url", endpoint, "lcmc-d base URL")
	flag.Parse()

	p := tea.NewProgram(initialModel(client.NewClient(endpoint)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
