package order

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tableon/barctl/pkg/models"
)

var perfHeader = []string{"created_at", "completed_at", "elapsed_s", "order_no", "menu_code", "menu_name", "status"}

// PerfLog appends completed orders to a per-day CSV so throughput can
// be reviewed without a database.
type PerfLog struct {
	dir string
	mu  sync.Mutex
}

// NewPerfLog creates a log rooted at dir, creating it if needed.
func NewPerfLog(dir string) (*PerfLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create perf log dir: %w", err)
	}
	return &PerfLog{dir: dir}, nil
}

// Record appends one finished order to today's file.
func (p *PerfLog) Record(o models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	path := filepath.Join(p.dir, "orders-"+time.Now().Format("2006-01-02")+".csv")
	fresh := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fresh = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open perf log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(perfHeader); err != nil {
			return fmt.Errorf("write perf header: %w", err)
		}
	}

	completed := ""
	elapsed := ""
	if o.CompletedAt != nil {
		completed = o.CompletedAt.Format(time.RFC3339)
		elapsed = strconv.FormatFloat(o.CompletedAt.Sub(o.CreatedAt).Seconds(), 'f', 1, 64)
	}
	row := []string{
		o.CreatedAt.Format(time.RFC3339),
		completed,
		elapsed,
		strconv.Itoa(o.OrderNo),
		strconv.Itoa(o.MenuCode),
		o.MenuName,
		string(o.Status),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write perf row: %w", err)
	}
	w.Flush()
	return w.Error()
}
