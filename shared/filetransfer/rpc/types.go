package rpc

// UpdateRequest asks the service whether an image newer than CurrentVersion exists.
type UpdateRequest struct {
	CurrentVersion uint32 `cbor:"1,keyasint"`
}

// UpdateInfo describes the image the service offers.
type UpdateInfo struct {
	Size       uint64 `cbor:"1,keyasint"`
	IsNew      bool   `cbor:"2,keyasint"`
	ResultCode int32  `cbor:"3,keyasint"`
}

func (x *UpdateInfo) GetSize() uint64 {
	if x != nil {
		return x.Size
	}
	return 0
}

func (x *UpdateInfo) GetIsNew() bool {
	if x != nil {
		return x.IsNew
	}
	return false
}

func (x *UpdateInfo) GetResultCode() int32 {
	if x != nil {
		return x.ResultCode
	}
	return 0
}

// StartTransferRequest asks the service to start streaming the image under Name.
type StartTransferRequest struct {
	Name string `cbor:"1,keyasint"`
}

func (x *StartTransferRequest) GetName() string {
	if x != nil {
		return x.Name
	}
	return ""
}

type StartTransferResponse struct {
	Accepted bool `cbor:"1,keyasint"`
}

func (x *StartTransferResponse) GetAccepted() bool {
	if x != nil {
		return x.Accepted
	}
	return false
}

// SubscribeRequest opens the chunk event stream.
type SubscribeRequest struct{}

// FileChunk is a single chunk event.
type FileChunk struct {
	Index uint32 `cbor:"1,keyasint"`
	Data  []byte `cbor:"2,keyasint"`
	Last  bool   `cbor:"3,keyasint"`
}

func (x *FileChunk) GetIndex() uint32 {
	if x != nil {
		return x.Index
	}
	return 0
}

func (x *FileChunk) GetData() []byte {
	if x != nil {
		return x.Data
	}
	return nil
}

func (x *FileChunk) GetLast() bool {
	if x != nil {
		return x.Last
	}
	return false
}
