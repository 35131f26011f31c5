package connector

import (
	"testing"

	"propsift/config"
)

func TestBrowserConnector_CloseBeforeStart(t *testing.T) {
	conn := NewBrowserConnector(&config.SourceConfig{ID: "scrapey", Domain: "www.scrapey.example", Method: "scrape"})

	// Shutdown closes every connector whether or not a crawl ran; a
	// connector with no live browser must tolerate that.
	conn.Close()
	conn.Close()

	if conn.initialized {
		t.Fatalf("close must leave the connector stopped")
	}
}

func TestBrowserConnector_IsCloser(t *testing.T) {
	var conn Connector = NewBrowserConnector(&config.SourceConfig{ID: "scrapey"})
	if _, ok := conn.(interface{ Close() }); !ok {
		t.Fatalf("browser connector must expose Close for shutdown")
	}
}
