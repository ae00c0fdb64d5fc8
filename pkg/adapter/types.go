package adapter

// Usage captures normalized token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider completion with optional usage data.
type Response struct {
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// CallReport captures what one LLMTool invocation cost in provider calls.
type CallReport struct {
	Adapter string `json:"adapter"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
	Retries int    `json:"retries"`
	Error   string `json:"error,omitempty"`
}

func normalizeUsage(u *Usage) Usage {
	if u == nil {
		return Usage{}
	}
	out := *u
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}
