package protocol

// Wire error codes, stable across versions. Services return these in
// {ok:false,error:...} and {status:"ERR",error:...} envelopes.
const (
	// Identity / session
	CodeMissingFields  = "missing_fields"
	CodeBadCredentials = "bad_credentials"
	CodeUsernameExists = "username_exists"
	CodeAlreadyOnline  = "already_online"
	CodeNotLoggedIn    = "not_logged_in"

	// Ownership / authority
	CodeNotOwner = "not_owner"
	CodeNotHost  = "not_host"

	// Catalog state
	CodeGameExists         = "game_exists"
	CodeVersionExists      = "version_exists"
	CodeGameDelisted       = "game_delisted"
	CodeNoVersion          = "no_version"
	CodeNoSuchGame         = "no_such_game"
	CodeNotFound           = "not_found"
	CodeMissingZipOnServer = "missing_zip_on_server"

	// Upload validation
	CodeBadGameID               = "bad_game_id"
	CodeBadVersion              = "bad_version"
	CodeBadSeq                  = "bad_seq"
	CodeBadBase64               = "bad_base64"
	CodeEmptyChunk              = "empty_chunk"
	CodeTooLarge                = "too_large"
	CodeSizeMismatch            = "size_mismatch"
	CodeHashMismatch            = "hash_mismatch"
	CodeUnsafeZipEntry          = "unsafe_zip_entry"
	CodeMissingManifest         = "missing_manifest"
	CodeBadManifestJSON         = "bad_manifest_json"
	CodeBadManifest             = "bad_manifest"
	CodeManifestGameIDMismatch  = "manifest_gameId_mismatch"
	CodeManifestVersionMismatch = "manifest_version_mismatch"
	CodeMissingServerEntry      = "missing_server_entry"
	CodeMissingClientEntry      = "missing_client_entry"
	CodeNoSuchUpload            = "no_such_upload"

	// Rooms / matches
	CodeAlreadyInRoom   = "already_in_room"
	CodeRoomFull        = "room_full"
	CodeRoomPlaying     = "room_playing"
	CodeNeedMorePlayers = "need_more_players"
	CodeNoSuchRoom      = "no_such_room"
	CodeAlreadyPlaying  = "already_playing"
	CodeGameInProgress  = "game_in_progress"
	CodeNoFreePort      = "no_free_port"
	CodeSpawnFailed     = "spawn_failed"
	CodeBadToken        = "bad_token"
	CodeBadRoomID       = "bad_room_id"

	// Store / downloads / reviews
	CodeNotPlayed      = "not_played"
	CodeNoSuchDownload = "no_such_download"
	CodeReadFailed     = "read_failed"
	CodeBadRequest     = "bad_request"
	CodeUnknownType    = "unknown_type"
)
