package models

import (
	"time"

	"gorm.io/datatypes"
)

// AIUsage tracks one user's consumed and in-flight generation credits.
// Rows are never deleted.
type AIUsage struct {
	Base
	UserID          string     `gorm:"type:uuid;uniqueIndex;not null" json:"userId"`
	MessagesUsed    int        `gorm:"not null;default:0" json:"messagesUsed"`
	PendingMessages int        `gorm:"not null;default:0" json:"pendingMessages"`
	LastReservedAt  *time.Time `json:"lastReservedAt,omitempty"`
	LastCompletedAt *time.Time `json:"lastCompletedAt,omitempty"`
}

func (AIUsage) TableName() string { return "ai_usage" }

type GenerationMethod string

const (
	MethodDirect     GenerationMethod = "direct"
	MethodGateway    GenerationMethod = "gateway"
	MethodStructured GenerationMethod = "structured"
)

func IsValidGenerationMethod(m GenerationMethod) bool {
	switch m {
	case MethodDirect, MethodGateway, MethodStructured:
		return true
	default:
		return false
	}
}

type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "pending"
	ResponseComplete ResponseStatus = "complete"
	ResponseError    ResponseStatus = "error"
)

// AIResponse is one generation request and its accumulated output.
type AIResponse struct {
	Base
	RequestorID      string           `gorm:"type:uuid;not null;uniqueIndex:ux_requestor_key,priority:1" json:"requestorId"`
	IdempotencyKey   string           `gorm:"not null;uniqueIndex:ux_requestor_key,priority:2" json:"idempotencyKey"`
	Method           GenerationMethod `gorm:"not null" json:"method"`
	Prompt           string           `gorm:"type:text;not null" json:"prompt"`
	Content          string           `gorm:"type:text;not null;default:''" json:"content"`
	Status           ResponseStatus   `gorm:"not null;index;default:'pending'" json:"status"`
	Provider         string           `json:"provider"`
	Model            string           `json:"model"`
	FinishReason     string           `json:"finishReason,omitempty"`
	PromptTokens     int              `json:"promptTokens"`
	CompletionTokens int              `json:"completionTokens"`
	TotalTokens      int              `json:"totalTokens"`
	TokensEstimated  bool             `json:"tokensEstimated"`
	StructuredResult datatypes.JSON   `gorm:"type:jsonb" json:"structuredResult,omitempty"`
	ParseError       string           `json:"parseError,omitempty"`
	ErrorMessage     string           `json:"errorMessage,omitempty"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

func (AIResponse) TableName() string { return "ai_responses" }
