package ai

import "strings"

// Style 画面风格，Suffix 会拼接到生图/生视频提示词末尾
type Style struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Suffix string `json:"promptSuffix"`
}

// 第一项同时作为未知风格的兜底
var styles = []Style{
	{ID: "realistic", Name: "写实", Suffix: ", realistic, photorealistic, high detail"},
	{ID: "anime", Name: "动漫", Suffix: ", anime style, vibrant colors, cel shading"},
	{ID: "cartoon", Name: "卡通", Suffix: ", cartoon style, bold colors, simplified shapes"},
	{ID: "cinematic", Name: "电影", Suffix: ", cinematic lighting, dramatic composition, film grain"},
	{ID: "watercolor", Name: "水彩", Suffix: ", watercolor painting, soft colors, fluid brushstrokes"},
	{ID: "oil_painting", Name: "油画", Suffix: ", oil painting, rich colors, textured brushwork"},
	{ID: "sketch", Name: "素描", Suffix: ", pencil sketch, graphite drawing, detailed linework"},
	{ID: "cyberpunk", Name: "赛博朋克", Suffix: ", cyberpunk style, neon lights, futuristic technology"},
	{ID: "fantasy", Name: "奇幻", Suffix: ", fantasy art, magical atmosphere, ethereal lighting"},
	{ID: "scifi", Name: "科幻", Suffix: ", sci-fi style, futuristic, high-tech elements"},
}

// Styles returns a copy of the style table.
func Styles() []Style {
	out := make([]Style, len(styles))
	copy(out, styles)
	return out
}

func KnownStyle(id string) bool {
	for _, s := range styles {
		if s.ID == id {
			return true
		}
	}
	return false
}

// StyleSuffix looks up the prompt suffix, falling back to the first entry.
func StyleSuffix(id string) string {
	for _, s := range styles {
		if s.ID == id {
			return s.Suffix
		}
	}
	return styles[0].Suffix
}

func imagePrompt(description, style string) string {
	return strings.TrimSpace(description) + StyleSuffix(style)
}

func videoPrompt(description, style string) string {
	description = strings.TrimSpace(description)
	if description == "" {
		description = "generate video from image"
	}
	return description + StyleSuffix(style)
}
