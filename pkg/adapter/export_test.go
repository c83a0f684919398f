package adapter

func GeminiSettings(g *GeminiClient) (string, *float32) {
	return g.generativeModel, g.temperature
}
