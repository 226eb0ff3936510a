// Command ccm-top is a terminal dashboard for one ccmd node.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	tlspkg "github.com/dd0wney/cluso-ccm/pkg/tls"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:7070", "Admin address of the node to watch")
	token := flag.String("token", os.Getenv("CCM_TOKEN"), "Viewer token (or set CCM_TOKEN)")
	interval := flag.Duration("interval", time.Second, "Refresh interval")
	caFile := flag.String("ca", "", "CA certificate for an HTTPS admin endpoint")
	insecure := flag.Bool("insecure", false, "Skip admin certificate verification")
	flag.Parse()

	client := &http.Client{Timeout: 3 * time.Second}
	scheme := "http"
	if *caFile != "" || *insecure {
		tc, err := tlspkg.ClientConfig(*caFile, *insecure)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ccm-top: %v\n", err)
			os.Exit(1)
		}
		client.Transport = &http.Transport{TLSClientConfig: tc}
		scheme = "https"
	}
	src := &statusSource{
		url:    baseURL(scheme, *addr) + "/status",
		token:  *token,
		client: client,
	}

	p := tea.NewProgram(initialModel(src, *interval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ccm-top: %v\n", err)
		os.Exit(1)
	}
}
