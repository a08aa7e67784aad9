package telegram

import (
	"context"
	"testing"
	"time"

	logx "github.com/viktordrukker/telegram-bot-ui/pkg/logx"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.SendTimeout != 10*time.Second {
		t.Errorf("SendTimeout = %v", cfg.SendTimeout)
	}
	if cfg.RatePerSec != 25 {
		t.Errorf("RatePerSec = %d", cfg.RatePerSec)
	}

	custom := Config{SendTimeout: time.Second, RatePerSec: 5}.withDefaults()
	if custom.SendTimeout != time.Second || custom.RatePerSec != 5 {
		t.Errorf("custom config overridden: %+v", custom)
	}
}

func TestClientRejectsEmptyToken(t *testing.T) {
	f := NewFactory(Config{}, logx.Nop())
	if _, err := f.Client(context.Background(), ""); err == nil {
		t.Error("empty token must be rejected")
	}
	if _, err := f.Client(context.Background(), "   "); err == nil {
		t.Error("blank token must be rejected")
	}
}

func TestClientHonorsCancelledContext(t *testing.T) {
	f := NewFactory(Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Client(ctx, "123:token"); err == nil {
		t.Error("cancelled context must abort credential check")
	}
}
