package models

// Collection names in the document store.
const (
	CollectionUsers         = "users"
	CollectionCustomers     = "customers"
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
	CollectionNotifications = "notifications"
)

// Document field names shared by queries and codecs.
const (
	FieldParticipants     = "participants"
	FieldParticipantNames = "participantNames"
	FieldParticipantRoles = "participantRoles"
	FieldLastMessage      = "lastMessage"
	FieldLastMessageTime  = "lastMessageTime"
	FieldCreatedAt        = "createdAt"
	FieldUpdatedAt        = "updatedAt"

	FieldConversationID = "conversationId"
	FieldSenderID       = "senderId"
	FieldSenderName     = "senderName"
	FieldRecipientID    = "recipientId"
	FieldRecipientName  = "recipientName"
	FieldContent        = "content"
	FieldTimestamp      = "timestamp"
	FieldRead           = "read"

	FieldType    = "type"
	FieldTitle   = "title"
	FieldMessage = "message"
	FieldReadAt  = "readAt"
	FieldData    = "data"

	FieldName         = "name"
	FieldEmail        = "email"
	FieldRole         = "role"
	FieldOnline       = "online"
	FieldLastSeen     = "lastSeen"
	FieldFirebaseUID  = "firebase_uid"
	FieldSalesAgentID = "salesAgentId"
)
