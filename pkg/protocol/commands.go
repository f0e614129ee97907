package protocol

// Request command codes.
const (
	CmdLogin              = 0x10
	CmdListChannels       = 0x20
	CmdListUsers          = 0x21
	CmdGetUserMessages    = 0x22
	CmdGetChannelMessages = 0x23
	CmdChannelMessage     = 0x30
	CmdUserMessage        = 0x31
	CmdJoinChannel        = 0x40
	CmdCreateChannel      = 0x42
	CmdUpload             = 0x60
	CmdDownload           = 0x61
)

// Response command codes.
const (
	RespClientError      = 0x00 // bad arguments or unknown command
	RespServerError      = 0x01 // store or internal failure
	RespNotAuthenticated = 0x02 // privileged command without login

	RespLoginOK     = 0x10
	RespUserCreated = 0x11
	RespBadPassword = 0x12

	RespSendOK         = 0x30
	RespSendFailed     = 0x31
	RespUserMessage    = 0x32 // also the unsolicited direct-message push
	RespChannelMessage = 0x33 // also the unsolicited channel broadcast
	RespFetchFailed    = 0x34

	RespChannelList = 0x40
	RespUserList    = 0x41

	RespJoined         = 0x50
	RespNoSuchChannel  = 0x51
	RespChannelCreated = 0x52
	RespCreateFailed   = 0x53

	RespUploadOK       = 0x70
	RespDownloadOK     = 0x71
	RespUploadFailed   = 0x72
	RespDownloadFailed = 0x73
)

// CommandName returns a stable label for a request command code,
// used for logging and metrics.
func CommandName(command uint8) string {
	switch command {
	case CmdLogin:
		return "login"
	case CmdListChannels:
		return "list_channels"
	case CmdListUsers:
		return "list_users"
	case CmdGetUserMessages:
		return "get_user_messages"
	case CmdGetChannelMessages:
		return "get_channel_messages"
	case CmdChannelMessage:
		return "channel_message"
	case CmdUserMessage:
		return "user_message"
	case CmdJoinChannel:
		return "join_channel"
	case CmdCreateChannel:
		return "create_channel"
	case CmdUpload:
		return "upload"
	case CmdDownload:
		return "download"
	default:
		return "unknown"
	}
}
