package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/dancesync/dancesync-agent/internal/catalog"
)

const refreshInterval = 5 * time.Second

type Tray struct {
	catalogSvc catalog.CatalogService
	runner     *catalog.Runner
	logger     *slog.Logger
	apiURL     string

	statusItem *systray.MenuItem
	videosItem *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu   sync.Mutex
	done chan struct{}

	onOpenUploads func() error
	onQuit        func()
}

type TrayConfig struct {
	CatalogService catalog.CatalogService
	Runner         *catalog.Runner
	Logger         *slog.Logger
	APIURL         string
	OnOpenUploads  func() error
	OnQuit         func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		catalogSvc:    cfg.CatalogService,
		runner:        cfg.Runner,
		logger:        cfg.Logger,
		apiURL:        cfg.APIURL,
		done:          make(chan struct{}),
		onOpenUploads: cfg.OnOpenUploads,
		onQuit:        cfg.OnQuit,
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("DanceSync")
	systray.SetTooltip("DanceSync Agent " + t.apiURL)

	t.statusItem = systray.AddMenuItem(statusLabel(false, 0), "Current agent status")
	t.statusItem.Disable()

	t.videosItem = systray.AddMenuItem(videosLabel(0), "Uploaded videos")
	t.videosItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause video analysis")
	uploadsItem := systray.AddMenuItem("Open Uploads Folder", "Show uploaded videos")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit DanceSync Agent")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-uploadsItem.ClickedCh:
				if t.onOpenUploads != nil {
					if err := t.onOpenUploads(); err != nil {
						t.logger.Error("failed to open uploads folder", "error", err)
					}
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.done)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

func (t *Tray) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if t.catalogSvc != nil {
		if n, err := t.catalogSvc.CountVideos(ctx); err == nil {
			t.UpdateVideosCount(n)
		}
	}
	if t.runner != nil {
		active := t.runner.GetActiveJobCount(ctx)
		t.mu.Lock()
		t.statusItem.SetTitle(statusLabel(t.runner.IsPaused(), active))
		t.mu.Unlock()
	}
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle(statusLabel(false, 0))
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle(statusLabel(true, 0))
	}
}

func (t *Tray) UpdateVideosCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.videosItem.SetTitle(videosLabel(count))
}

func (t *Tray) Quit() {
	systray.Quit()
}

func statusLabel(paused bool, active int) string {
	switch {
	case paused:
		return "Status: Paused"
	case active > 0:
		return fmt.Sprintf("Status: Analyzing (%d)", active)
	default:
		return "Status: Idle"
	}
}

func videosLabel(n int) string {
	return fmt.Sprintf("Videos: %d", n)
}
