package event

// Connection events
const (
	TypeConnect              = "connect"
	TypeDisconnect           = "disconnect"
	TypeConnectionError      = "connection_error"
	TypeAuthenticate         = "authenticate"
	TypeAuthenticationOK     = "authentication_success"
	TypeAuthenticationFailed = "authentication_failed"
)

// Gateway protocol acknowledgements
const (
	TypeConnectionEstablished = "connection_established"
	TypeSubscriptionConfirmed = "subscription_confirmed"
	TypeUnsubscribed          = "unsubscribed"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Chat events
const (
	TypeNewMessage       = "new_message"
	TypeMessageProcessed = "message_processed"
	TypeTypingIndicator  = "typing_indicator"
	TypeTypingStop       = "typing_stop"
	TypeChatStatusUpdate = "chat_status_update"
	TypeMessageRead      = "message_read"
	TypeMessageDeleted   = "message_deleted"
)

// Project events
const (
	TypeProjectCreated = "project_created"
	TypeProjectUpdated = "project_updated"
	TypeProjectDeleted = "project_deleted"
	TypeProjectJoined  = "project_joined"
	TypeProjectLeft    = "project_left"
)

// AI processing events
const (
	TypeAIProcessingStart    = "ai_processing_start"
	TypeAIProcessingEnd      = "ai_processing_end"
	TypeAIProcessingProgress = "ai_processing_progress"
	TypeAIProcessingError    = "ai_processing_error"
	TypeAIResponseGenerated  = "ai_response_generated"
)

// Status events
const (
	TypeSystemStatusUpdate = "system_status_update"
	TypeHealthCheck        = "health_check"
	TypeMetricsUpdate      = "metrics_update"
	TypePerformanceAlert   = "performance_alert"
)

// Memory events
const (
	TypeMemoryStored            = "memory_stored"
	TypeMemoryUpdated           = "memory_updated"
	TypeMemoryDeleted           = "memory_deleted"
	TypeContextAnalysisComplete = "context_analysis_complete"
	TypeSimilarIssuesFound      = "similar_issues_found"
)

// User events
const (
	TypeUserJoined        = "user_joined"
	TypeUserLeft          = "user_left"
	TypeUserStatusChanged = "user_status_changed"
	TypeUserTyping        = "user_typing"
)

// Admin events
const (
	TypeBroadcastMessage   = "broadcast_message"
	TypeSystemNotification = "system_notification"
	TypeMaintenanceMode    = "maintenance_mode"
	TypeServerShutdown     = "server_shutdown"
)

// Error events
const (
	TypeErrorOccurred      = "error_occurred"
	TypeWarningIssued      = "warning_issued"
	TypeRecoveryAttempt    = "recovery_attempt"
	TypeConnectionRestored = "connection_restored"
)
