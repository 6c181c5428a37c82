package cli

import (
	"fmt"
	"time"

	"github.com/rewindlabs/rewind/internal/apiclient"
	"github.com/rewindlabs/rewind/internal/config"
)

// defaultContextTimeout bounds one-shot API calls. Streaming commands
// manage their own context lifetime.
const defaultContextTimeout = 30 * time.Second

func newClient(serverURL *string) *apiclient.APIClient {
	return apiclient.New(config.APIServerURL(*serverURL))
}

// formatDuration renders an execution duration for table output.
// Executions that have not completed yet have no duration.
func formatDuration(minutes float64) string {
	if minutes <= 0 {
		return "-"
	}
	if minutes < 1 {
		return fmt.Sprintf("%.0fs", minutes*60)
	}
	return fmt.Sprintf("%.1fm", minutes)
}
