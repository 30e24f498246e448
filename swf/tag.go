package swf

import "fmt"

// ---------------------------------------------------------------------------
// Tag codes
// ---------------------------------------------------------------------------

// TagCode identifies a tag record type.
type TagCode uint16

// Control tags
const (
	TagEnd                TagCode = 0
	TagShowFrame          TagCode = 1
	TagSetBackgroundColor TagCode = 9
	TagFrameLabel         TagCode = 43
	TagExportAssets       TagCode = 56
	TagScriptLimits       TagCode = 65
	TagFileAttributes     TagCode = 69
	TagSymbolClass        TagCode = 76
)

// Display list tags
const (
	TagPlaceObject   TagCode = 4
	TagRemoveObject  TagCode = 5
	TagPlaceObject2  TagCode = 26
	TagRemoveObject2 TagCode = 28
	TagPlaceObject3  TagCode = 70
)

// Definition tags
const (
	TagDefineShape          TagCode = 2
	TagDefineBitsLossless   TagCode = 20
	TagDefineShape2         TagCode = 22
	TagDefineShape3         TagCode = 32
	TagDefineBitsLossless2  TagCode = 36
	TagDefineEditText       TagCode = 37
	TagDefineSprite         TagCode = 39
	TagDefineShape4         TagCode = 83
)

// Script tags
const (
	TagDoAction     TagCode = 12
	TagDoInitAction TagCode = 59
	TagDoABC        TagCode = 72
	TagDoABC2       TagCode = 82
)

var tagNames = map[TagCode]string{
	TagEnd:                 "End",
	TagShowFrame:           "ShowFrame",
	TagSetBackgroundColor:  "SetBackgroundColor",
	TagFrameLabel:          "FrameLabel",
	TagExportAssets:        "ExportAssets",
	TagScriptLimits:        "ScriptLimits",
	TagFileAttributes:      "FileAttributes",
	TagSymbolClass:         "SymbolClass",
	TagPlaceObject:         "PlaceObject",
	TagRemoveObject:        "RemoveObject",
	TagPlaceObject2:        "PlaceObject2",
	TagRemoveObject2:       "RemoveObject2",
	TagPlaceObject3:        "PlaceObject3",
	TagDefineShape:         "DefineShape",
	TagDefineBitsLossless:  "DefineBitsLossless",
	TagDefineShape2:        "DefineShape2",
	TagDefineShape3:        "DefineShape3",
	TagDefineBitsLossless2: "DefineBitsLossless2",
	TagDefineEditText:      "DefineEditText",
	TagDefineSprite:        "DefineSprite",
	TagDefineShape4:        "DefineShape4",
	TagDoAction:            "DoAction",
	TagDoInitAction:        "DoInitAction",
	TagDoABC:               "DoABC",
	TagDoABC2:              "DoABC2",
}

func (c TagCode) String() string {
	if name, ok := tagNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", uint16(c))
}

// ---------------------------------------------------------------------------
// Tag values
// ---------------------------------------------------------------------------

// Tag is one decoded record of the container. Tags are immutable once
// parsed.
type Tag interface {
	Code() TagCode
}

// Header is the position of a tag in the file, embedded in every tag.
type Header struct {
	TagCode TagCode
	Offset  int // file offset of the tag header
}

func (h Header) Code() TagCode { return h.TagCode }

// UnknownTag preserves a tag the reader does not decode.
type UnknownTag struct {
	Header
	Data []byte
}

type ShowFrame struct{ Header }

type SetBackgroundColor struct {
	Header
	Color RGBA
}

type FrameLabel struct {
	Header
	Name   string
	Anchor bool
}

// Asset binds a character id to an exported or class name.
type Asset struct {
	ID   uint16
	Name string
}

type ExportAssets struct {
	Header
	Assets []Asset
}

type SymbolClass struct {
	Header
	Symbols []Asset
}

type ScriptLimits struct {
	Header
	MaxRecursionDepth    uint16
	ScriptTimeoutSeconds uint16
}

// File attribute flags.
const (
	AttrUseNetwork    uint32 = 0x01
	AttrActionScript3 uint32 = 0x08
	AttrHasMetadata   uint32 = 0x10
	AttrUseGPU        uint32 = 0x20
	AttrUseDirectBlit uint32 = 0x40
)

type FileAttributes struct {
	Header
	Flags uint32
}

// ActionScript3 reports whether the movie carries modern-dialect code.
func (f *FileAttributes) ActionScript3() bool { return f.Flags&AttrActionScript3 != 0 }

// PlaceObject covers all three placement flavors. Version 1 always places
// a character; versions 2 and 3 distinguish place, move and replace.
type PlaceObject struct {
	Header
	Version uint8

	Depth          uint16
	Move           bool
	HasCharacter   bool
	CharacterID    uint16
	Matrix         *Matrix
	ColorTransform *ColorTransform
	Ratio          *uint16
	Name           string
	HasName        bool
	ClipDepth      uint16
	ClassName      string

	// Extra holds undecoded trailing data (filters, blend mode, clip
	// actions).
	Extra []byte
}

// PlaceMode classifies how a placement interacts with the occupant of its
// depth.
type PlaceMode uint8

const (
	PlaceAdd     PlaceMode = iota // new character at a free depth
	PlaceModify                   // change the existing occupant
	PlaceReplace                  // swap the occupant's character
)

func (p *PlaceObject) Mode() PlaceMode {
	if p.Version == 1 {
		return PlaceAdd
	}
	switch {
	case p.Move && p.HasCharacter:
		return PlaceReplace
	case p.Move:
		return PlaceModify
	default:
		return PlaceAdd
	}
}

type RemoveObject struct {
	Header
	Version     uint8
	CharacterID uint16 // zero for RemoveObject2
	Depth       uint16
}

// DefineShape keeps the geometry opaque; it is handed to the renderer.
type DefineShape struct {
	Header
	Version  uint8
	ID       uint16
	Bounds   Rect
	Geometry []byte
}

type DefineSprite struct {
	Header
	ID         uint16
	FrameCount uint16
	Tags       []Tag
	// Errors lists recoverable failures inside the sprite's own tag list.
	Errors []error
}

// DefineEditText flag bits, high byte first.
const (
	EditHasText      uint16 = 0x8000
	EditWordWrap     uint16 = 0x4000
	EditMultiline    uint16 = 0x2000
	EditPassword     uint16 = 0x1000
	EditReadOnly     uint16 = 0x0800
	EditHasTextColor uint16 = 0x0400
	EditHasMaxLength uint16 = 0x0200
	EditHasFont      uint16 = 0x0100
	EditHasFontClass uint16 = 0x0080
	EditAutoSize     uint16 = 0x0040
	EditHasLayout    uint16 = 0x0020
	EditNoSelect     uint16 = 0x0010
	EditBorder       uint16 = 0x0008
	EditWasStatic    uint16 = 0x0004
	EditHTML         uint16 = 0x0002
	EditUseOutlines  uint16 = 0x0001
)

type DefineEditText struct {
	Header
	ID           uint16
	Bounds       Rect
	Flags        uint16
	FontID       uint16
	FontClass    string
	FontHeight   uint16
	Color        RGBA
	MaxLength    uint16
	Align        uint8
	LeftMargin   uint16
	RightMargin  uint16
	Indent       uint16
	Leading      int16
	VariableName string
	InitialText  string
}

type DefineBitsLossless struct {
	Header
	Version        uint8
	ID             uint16
	Format         uint8
	Width          uint16
	Height         uint16
	ColorTableSize uint8
	ZlibData       []byte
}

type DoAction struct {
	Header
	Actions []byte
}

type DoInitAction struct {
	Header
	SpriteID uint16
	Actions  []byte
}

// DoABC carries a modern-dialect bytecode file.
type DoABC struct {
	Header
	Flags uint32
	Name  string
	Data  []byte
}

// DoABC flags.
const ABCLazyInitialize uint32 = 1
