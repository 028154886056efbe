package attempts

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewRedisCounterInvalidURL(t *testing.T) {
	if _, err := NewRedisCounter("not-a-url", time.Hour, zerolog.Nop()); err == nil {
		t.Fatal("无效的 redis url 应报错")
	}
}

func TestNewRedisCounterValidURL(t *testing.T) {
	counter, err := NewRedisCounter("redis://localhost:6379/0", time.Hour, zerolog.Nop())
	if err != nil {
		t.Fatalf("合法 url 应解析成功: %v", err)
	}
	defer counter.Close()
}
