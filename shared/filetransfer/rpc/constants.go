package rpc

// protocol constants, field names that can be used by both client and server
const HeaderDomain = "x-ota-domain"
const HeaderInstance = "x-ota-instance"
const HeaderSubscribed = "x-ota-subscribed"
const HeaderVersion = "x-ota-version"

// ServiceName is the fully qualified name of the file transfer service. It is also the
// health check service name the server reports as SERVING.
const ServiceName = "filetransfer.example.FileTransfer"

// ChunkSize is the fixed payload size of every chunk but the last one.
const ChunkSize = 64 * 1024
