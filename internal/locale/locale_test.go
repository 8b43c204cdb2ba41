package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalog_Get(t *testing.T) {
	c := NewCatalog("en")

	assert.Equal(t, "Your history has been cleared", c.Get(EN, HistoryCleared))
	assert.Equal(t, "您的历史记录已被清除", c.Get(ZH, HistoryCleared))
	// 未知语言回退到默认语言
	assert.Equal(t, "Drawing...", c.Get(Lang("fr"), Drawing))
	// 未知键返回键本身
	assert.Equal(t, "missing_key", c.Get(ZH, "missing_key"))
}

func TestCatalog_TablesAreComplete(t *testing.T) {
	for key := range messages[ZH] {
		assert.Contains(t, messages[EN], key, "en missing %s", key)
	}
	for key := range messages[EN] {
		assert.Contains(t, messages[ZH], key, "zh missing %s", key)
	}
	for _, lang := range []Lang{ZH, EN} {
		for _, name := range CommandOrder {
			assert.Contains(t, commandDescriptions[lang], name)
		}
	}
}

func TestParseAndToggle(t *testing.T) {
	assert.Equal(t, EN, Parse(" EN ", ZH))
	assert.Equal(t, ZH, Parse("", ZH))
	assert.Equal(t, EN, Parse("de", EN))
	assert.Equal(t, EN, ZH.Toggle())
	assert.Equal(t, ZH, EN.Toggle())

	c := NewCatalog("xx")
	assert.Equal(t, ZH, c.Default())
	assert.Equal(t, "Start", c.Command(EN, "start"))
	assert.Equal(t, "unknown", c.Command(EN, "unknown"))
}
