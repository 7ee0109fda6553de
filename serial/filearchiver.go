package serial

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NVIDIA/cstruct"
	"github.com/creachadair/cityhash"
	"github.com/fxamacker/cbor/v2"

	"github.com/redwerk/plugin-Library/blunder"
	"github.com/redwerk/plugin-Library/logger"
	"github.com/redwerk/plugin-Library/utils"
)

// OnDiskByteOrder specifies the endian-ness used to persist blob headers
var OnDiskByteOrder = cstruct.LittleEndian

const blobHeaderMagic = uint64(0x426C6F6246696C65) // "BlobFile"
const blobHeaderVersion = uint64(1)

// blobHeaderStruct precedes the CBOR payload in every archived file.
// PayloadHashLo/Hi also name the file, so a pull can verify both integrity
// and identity from the same fields.
type blobHeaderStruct struct {
	Magic         uint64
	Version       uint64
	PayloadLength uint64
	PayloadHashLo uint64
	PayloadHashHi uint64
}

// FileArchiverConfig carries the settings for a FileArchiver.
type FileArchiverConfig struct {
	RootDir   string // directory under which blobs are stored; must exist
	Prefix    string // prepended to each blob file name
	Suffix    string // appended to each blob file name, before the extension
	Extension string // file extension, with leading dot (default ".blob")
}

// FileArchiver converts between an object and a content-addressed file on
// disk. The payload is CBOR; an optional Translator is applied around the
// codec so domain objects can supply their own attribute-map form.
//
// Meta handles are the hex form of the payload's 128-bit content hash, so a
// push of identical content is naturally idempotent: it lands on the same
// file. A push whose target file already exists reports TaskCompleteError
// after writing the meta back into the task.
type FileArchiver struct {
	config     FileArchiverConfig
	translator Translator // optional; nil passes objects straight to the codec
	encMode    cbor.EncMode
	decMode    cbor.DecMode
}

// NewFileArchiver creates a FileArchiver rooted at config.RootDir. The
// translator may be nil.
func NewFileArchiver(config FileArchiverConfig, translator Translator) (archiver *FileArchiver, err error) {
	var (
		decMode cbor.DecMode
		encMode cbor.EncMode
		info    os.FileInfo
	)

	info, err = os.Stat(config.RootDir)
	if nil != err {
		err = blunder.AddError(err, blunder.InvalidArgError)
		return
	}
	if !info.IsDir() {
		err = blunder.NewError(blunder.InvalidArgError, "FileArchiver root %s is not a directory", config.RootDir)
		return
	}

	if "" == config.Extension {
		config.Extension = ".blob"
	}

	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if nil != err {
		return
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if nil != err {
		return
	}

	archiver = &FileArchiver{
		config:     config,
		translator: translator,
		encMode:    encMode,
		decMode:    decMode,
	}

	return
}

// contentAddress derives the meta handle for a payload.
func contentAddress(payload []byte) (addressLo uint64, addressHi uint64, address string) {
	addressLo, addressHi = cityhash.Hash128(payload)
	address = utils.Uint64ToHexStr(addressHi) + utils.Uint64ToHexStr(addressLo)
	return
}

// blobPath maps a meta handle onto the file holding it.
func (archiver *FileArchiver) blobPath(address string) (path string) {
	path = filepath.Join(archiver.config.RootDir,
		archiver.config.Prefix+address+archiver.config.Suffix+archiver.config.Extension)
	return
}

// metaToAddress validates that a task's meta is usable as a file address.
func metaToAddress(meta interface{}) (address string, err error) {
	address, ok := meta.(string)
	if !ok {
		err = blunder.NewError(blunder.InvalidArgError, "FileArchiver does not support such metadata: %v", meta)
		return
	}
	if "" == address {
		err = blunder.NewError(blunder.InvalidArgError, "FileArchiver given empty metadata")
		return
	}
	err = nil
	return
}

// Pull retrieves the object named by task.Meta into task.Data.
func (archiver *FileArchiver) Pull(task *PullTask) (err error) {
	var (
		address      string
		blob         []byte
		bytesUnpack  uint64
		header       blobHeaderStruct
		headerLength uint64
		intermediate interface{}
		obj          interface{}
		path         string
		payload      []byte
		payloadLo    uint64
		payloadHi    uint64
	)

	address, err = metaToAddress(task.Meta)
	if nil != err {
		return
	}
	path = archiver.blobPath(address)

	blob, err = os.ReadFile(path)
	if nil != err {
		if os.IsNotExist(err) {
			err = blunder.AddError(err, blunder.NotFoundError)
		} else {
			err = blunder.AddError(err, blunder.IOError)
		}
		err = blunder.AddRangeContext(err, address)
		return
	}

	headerLength, _, err = cstruct.Examine(&header)
	if nil != err {
		logger.PanicfWithError(err, "cstruct.Examine() of blobHeaderStruct failed")
		return
	}
	if uint64(len(blob)) < headerLength {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s truncated: %d bytes", address, len(blob))
		return
	}

	bytesUnpack, err = cstruct.Unpack(blob, &header, OnDiskByteOrder)
	if nil != err {
		err = blunder.AddError(err, blunder.DataFormatError)
		return
	}

	if blobHeaderMagic != header.Magic {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s has bad magic: %016X", address, header.Magic)
		return
	}
	if blobHeaderVersion != header.Version {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s has unknown version: %d", address, header.Version)
		return
	}

	payload = blob[bytesUnpack:]
	if uint64(len(payload)) != header.PayloadLength {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s payload length mismatch: header %d, actual %d", address, header.PayloadLength, len(payload))
		return
	}

	payloadLo, payloadHi = cityhash.Hash128(payload)
	if (payloadLo != header.PayloadHashLo) || (payloadHi != header.PayloadHashHi) {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s failed checksum", address)
		return
	}
	if utils.Uint64ToHexStr(payloadHi)+utils.Uint64ToHexStr(payloadLo) != address {
		err = blunder.NewError(blunder.DataFormatError, "FileArchiver blob %s content does not match its address", address)
		return
	}

	err = archiver.decMode.Unmarshal(payload, &intermediate)
	if nil != err {
		err = blunder.AddError(err, blunder.DataFormatError)
		return
	}

	if nil == archiver.translator {
		obj = intermediate
	} else {
		obj, err = archiver.translator.Rev(intermediate)
		if nil != err {
			return
		}
	}

	task.Data = obj
	err = nil
	return
}

// Push stores task.Data and writes its content address into task.Meta. If a
// blob with that address already exists the push is covered by previous work
// and TaskCompleteError is returned, with the meta still written back.
func (archiver *FileArchiver) Push(task *PushTask) (err error) {
	var (
		address      string
		blob         []byte
		header       blobHeaderStruct
		headerPacked []byte
		intermediate interface{}
		path         string
		payload      []byte
	)

	if nil == archiver.translator {
		intermediate = task.Data
	} else {
		intermediate, err = archiver.translator.App(task.Data)
		if nil != err {
			return
		}
	}

	payload, err = archiver.encMode.Marshal(intermediate)
	if nil != err {
		err = blunder.AddError(err, blunder.DataFormatError)
		return
	}

	header.Magic = blobHeaderMagic
	header.Version = blobHeaderVersion
	header.PayloadLength = uint64(len(payload))
	header.PayloadHashLo, header.PayloadHashHi, address = contentAddress(payload)

	task.Meta = address
	path = archiver.blobPath(address)

	_, err = os.Stat(path)
	if nil == err {
		// Same content, same address: the object is already persisted.
		err = blunder.NewError(blunder.TaskCompleteError, "FileArchiver blob %s already persisted", address)
		return
	}
	if !os.IsNotExist(err) {
		err = blunder.AddError(err, blunder.IOError)
		return
	}

	headerPacked, err = cstruct.Pack(&header, OnDiskByteOrder)
	if nil != err {
		logger.PanicfWithError(err, "cstruct.Pack() of blobHeaderStruct failed")
		return
	}

	blob = make([]byte, 0, len(headerPacked)+len(payload))
	blob = append(blob, headerPacked...)
	blob = append(blob, payload...)

	err = os.WriteFile(path, blob, 0644)
	if nil != err {
		err = blunder.AddError(err, blunder.IOError)
		err = blunder.AddRangeContext(err, address)
		return
	}

	logger.Tracef("FileArchiver pushed %d byte blob %s", len(blob), address)

	err = nil
	return
}

// PullList performs each pull in order. A failed task gets its Err field set
// and the remaining tasks are still attempted; TaskCompleteError does not
// count as a failure.
func (archiver *FileArchiver) PullList(tasks []*PullTask) (err error) {
	var (
		failures int
		firstErr error
	)

	for _, task := range tasks {
		task.Err = archiver.Pull(task)
		if (nil != task.Err) && blunder.IsNot(task.Err, blunder.TaskCompleteError) {
			failures++
			if nil == firstErr {
				firstErr = task.Err
			}
		}
	}

	if 0 != failures {
		err = abortBatch("pull", failures, len(tasks), firstErr)
		return
	}

	err = nil
	return
}

// PushList performs each push in order with the same per-task failure
// semantics as PullList.
func (archiver *FileArchiver) PushList(tasks []*PushTask) (err error) {
	var (
		failures int
		firstErr error
	)

	for _, task := range tasks {
		task.Err = archiver.Push(task)
		if (nil != task.Err) && blunder.IsNot(task.Err, blunder.TaskCompleteError) {
			failures++
			if nil == firstErr {
				firstErr = task.Err
			}
		}
	}

	if 0 != failures {
		err = abortBatch("push", failures, len(tasks), firstErr)
		return
	}

	err = nil
	return
}

// String identifies the archiver in logs.
func (archiver *FileArchiver) String() string {
	return fmt.Sprintf("FileArchiver{%s}", archiver.config.RootDir)
}
