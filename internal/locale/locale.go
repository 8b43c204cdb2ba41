// Package locale 提供面向用户的中英文提示
package locale

import "strings"

// Lang 语言代码
type Lang string

const (
	ZH Lang = "zh"
	EN Lang = "en"
)

// 消息键
const (
	ErrorInfo          = "error_info"
	Generating         = "before_generate_info"
	DownloadingPicture = "download_pic_notify"
	Welcome            = "welcome_message"
	GeminiUsage        = "gemini_usage_tip"
	GeminiProUsage     = "gemini_pro_usage_tip"
	HistoryCleared     = "history_cleared"
	PrivateChatOnly    = "private_chat_only"
	UsingModel         = "using_model"
	SendPhotoRequest   = "send_photo_request"
	DrawUsage          = "draw_usage_tip"
	Drawing            = "drawing"
	ErrorDetails       = "error_details"
	LanguageSwitched   = "language_switched"
	LanguageUsage      = "language_usage_tip"
	NoContent          = "no_content"
	QuotaExhausted     = "quota_exhausted"
	EditUsage          = "edit_usage_tip"
)

var messages = map[Lang]map[string]string{
	ZH: {
		ErrorInfo:          "⚠️⚠️⚠️\n出现错误！\n请尝试更改您的提示或联系管理员！",
		Generating:         "🤖正在生成🤖",
		DownloadingPicture: "🤖正在加载图片🤖",
		Welcome:            "欢迎，您现在可以向我提问。\n例如：`约翰·列侬是谁？`",
		GeminiUsage:        "请在 /gemini 后添加您想说的内容。\n例如：`/gemini 约翰·列侬是谁？`",
		GeminiProUsage:     "请在 /gemini_pro 后添加您想说的内容。\n例如：`/gemini_pro 约翰·列侬是谁？`",
		HistoryCleared:     "您的历史记录已被清除",
		PrivateChatOnly:    "此命令仅适用于私聊！",
		UsingModel:         "您现在正在使用 ",
		SendPhotoRequest:   "请发送一张照片",
		DrawUsage:          "请在 /draw 后添加您想绘制的内容。\n例如：`/draw 给我画一只猫。`",
		Drawing:            "正在绘制...",
		ErrorDetails:       "错误详情: ",
		LanguageSwitched:   "已切换到中文",
		LanguageUsage:      "使用 /language 命令切换语言（中文/英文）",
		NoContent:          "模型没有生成任何内容。",
		QuotaExhausted:     "您的使用次数已用完，请联系管理员。",
		EditUsage:          "请发送一张照片，并在说明中以 /edit 开头写下修改要求。",
	},
	EN: {
		ErrorInfo:          "⚠️⚠️⚠️\nSomething went wrong!\nPlease try to change your prompt or contact the admin!",
		Generating:         "🤖Generating🤖",
		DownloadingPicture: "🤖Loading picture🤖",
		Welcome:            "Welcome, you can ask me questions now.\nFor example: `Who is John Lennon?`",
		GeminiUsage:        "Please add what you want to say after /gemini.\nFor example: `/gemini Who is John Lennon?`",
		GeminiProUsage:     "Please add what you want to say after /gemini_pro.\nFor example: `/gemini_pro Who is John Lennon?`",
		HistoryCleared:     "Your history has been cleared",
		PrivateChatOnly:    "This command is only for private chat!",
		UsingModel:         "Now you are using ",
		SendPhotoRequest:   "Please send a photo",
		DrawUsage:          "Please add what you want to draw after /draw.\nFor example: `/draw Draw me a cat.`",
		Drawing:            "Drawing...",
		ErrorDetails:       "Error details: ",
		LanguageSwitched:   "Switched to English",
		LanguageUsage:      "Use /language command to switch language (Chinese/English)",
		NoContent:          "No content was generated.",
		QuotaExhausted:     "You have run out of requests. Please contact the admin.",
		EditUsage:          "Send a photo with a caption starting with /edit that describes the change.",
	},
}

var commandDescriptions = map[Lang]map[string]string{
	ZH: {
		"start":      "开始",
		"gemini":     "使用快速模型",
		"gemini_pro": "使用专业模型",
		"draw":       "绘制图片",
		"edit":       "编辑照片",
		"clear":      "清除所有历史记录",
		"switch":     "切换默认模型",
		"language":   "切换语言(中文/英文)",
	},
	EN: {
		"start":      "Start",
		"gemini":     "using the fast model",
		"gemini_pro": "using the pro model",
		"draw":       "draw picture",
		"edit":       "edit photo",
		"clear":      "Clear all history",
		"switch":     "switch default model",
		"language":   "switch language(Chinese/English)",
	},
}

// CommandOrder 命令菜单的展示顺序
var CommandOrder = []string{"start", "gemini", "gemini_pro", "draw", "edit", "clear", "switch", "language"}

// Parse 解析语言代码，无法识别时返回 fallback
func Parse(s string, fallback Lang) Lang {
	switch Lang(strings.ToLower(strings.TrimSpace(s))) {
	case ZH:
		return ZH
	case EN:
		return EN
	}
	return fallback
}

// Toggle 在中英文之间切换
func (l Lang) Toggle() Lang {
	if l == EN {
		return ZH
	}
	return EN
}

// Catalog 带默认语言的消息表
type Catalog struct {
	fallback Lang
}

// NewCatalog 创建消息表，fallback 无效时使用中文
func NewCatalog(fallback string) *Catalog {
	return &Catalog{fallback: Parse(fallback, ZH)}
}

// Default 默认语言
func (c *Catalog) Default() Lang {
	return c.fallback
}

// Get 查找消息，依次回退到默认语言和键本身
func (c *Catalog) Get(lang Lang, key string) string {
	if msg, ok := messages[lang][key]; ok {
		return msg
	}
	if msg, ok := messages[c.fallback][key]; ok {
		return msg
	}
	return key
}

// Command 查找命令描述
func (c *Catalog) Command(lang Lang, name string) string {
	if desc, ok := commandDescriptions[lang][name]; ok {
		return desc
	}
	if desc, ok := commandDescriptions[c.fallback][name]; ok {
		return desc
	}
	return name
}
