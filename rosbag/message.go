package rosbag

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	rosbagStructTag = "rosbag"
)

var (
	errInvalidFormat     = errors.New("invalid message format")
	errUnresolvedMsgType = errors.New("failed to resolve a complex message type")
	errInvalidConstType  = errors.New("invalid const type")
	errInvalidDataType   = errors.New("data must be a map[string]interface{} or a pointer to a struct")
	errRecursiveMsgType  = errors.New("message type refers to itself")
	errMissingField      = errors.New("struct field is missing from the message definition")
)

type MessageFieldType uint8

const (
	MessageFieldTypeBool MessageFieldType = iota + 1
	MessageFieldTypeInt8
	MessageFieldTypeUint8
	MessageFieldTypeInt16
	MessageFieldTypeUint16
	MessageFieldTypeInt32
	MessageFieldTypeUint32
	MessageFieldTypeInt64
	MessageFieldTypeUint64
	MessageFieldTypeFloat32
	MessageFieldTypeFloat64
	MessageFieldTypeString
	MessageFieldTypeTime
	MessageFieldTypeDuration
	MessageFieldTypeComplex
)

var (
	messageFieldTypeMap = map[string]MessageFieldType{
		"bool":     MessageFieldTypeBool,
		"int8":     MessageFieldTypeInt8,
		"byte":     MessageFieldTypeInt8,
		"uint8":    MessageFieldTypeUint8,
		"char":     MessageFieldTypeUint8,
		"int16":    MessageFieldTypeInt16,
		"uint16":   MessageFieldTypeUint16,
		"int32":    MessageFieldTypeInt32,
		"uint32":   MessageFieldTypeUint32,
		"int64":    MessageFieldTypeInt64,
		"uint64":   MessageFieldTypeUint64,
		"float32":  MessageFieldTypeFloat32,
		"float64":  MessageFieldTypeFloat64,
		"string":   MessageFieldTypeString,
		"time":     MessageFieldTypeTime,
		"duration": MessageFieldTypeDuration,
	}
)

type ConnectionHeader struct {
	Topic    string
	Type     string
	MD5Sum   string
	CallerID string
	Latching bool
	// Definition is the raw message definition text as stored in the bag.
	Definition        string
	MessageDefinition MessageDefinition
	// definitionErr is set when Definition can't be parsed. Only decoding
	// messages of the connection fails.
	definitionErr error
}

func (hdr *ConnectionHeader) unmarshall(b []byte) error {
	err := iterateHeaderFields(b, func(key, value []byte) error {
		switch string(key) {
		case "topic":
			hdr.Topic = string(value)
		case "type":
			hdr.Type = string(value)
		case "md5sum":
			hdr.MD5Sum = string(value)
		case "callerid":
			hdr.CallerID = string(value)
		case "latching":
			hdr.Latching = string(value) == "1"
		case "message_definition":
			hdr.Definition = string(value)
		}
		return nil
	})
	if err != nil {
		return err
	}

	hdr.MessageDefinition = MessageDefinition{Type: hdr.Type}
	if err := hdr.MessageDefinition.unmarshall([]byte(hdr.Definition)); err != nil {
		hdr.definitionErr = fmt.Errorf("%s: %w", hdr.Type, err)
	}
	return nil
}

// DefinitionErr returns why the message definition of the connection couldn't
// be parsed, or nil.
func (hdr *ConnectionHeader) DefinitionErr() error {
	return hdr.definitionErr
}

func (hdr *ConnectionHeader) marshall() []byte {
	fields := []headerField{
		{"topic", []byte(hdr.Topic)},
		{"type", []byte(hdr.Type)},
		{"md5sum", []byte(hdr.MD5Sum)},
		{"message_definition", []byte(hdr.Definition)},
	}
	if hdr.CallerID != "" {
		fields = append(fields, headerField{"callerid", []byte(hdr.CallerID)})
	}
	if hdr.Latching {
		fields = append(fields, headerField{"latching", []byte("1")})
	}
	return appendHeaderFields(nil, fields)
}

// MessageDefinition is defined here, http://wiki.ros.org/msg
type MessageDefinition struct {
	Type   string
	Fields []*MessageFieldDefinition
}

// ParseMessageDefinition parses the full text of a message definition, including the
// "MSG:" sections of its dependencies, as found in a connection header.
func ParseMessageDefinition(msgType string, raw []byte) (*MessageDefinition, error) {
	def := MessageDefinition{Type: msgType}
	if err := def.unmarshall(raw); err != nil {
		return nil, err
	}
	return &def, nil
}

// decodeConstValue decodes raw to concrete type. Raw is expected to be in ASCII.
// Constant types can be any builtin types except Time and Duration.
// Reference: http://wiki.ros.org/msg#Constants
func decodeConstValue(fieldType MessageFieldType, raw []byte) (interface{}, error) {
	rawStr := string(raw)

	switch fieldType {
	case MessageFieldTypeBool:
		v, err := strconv.ParseBool(rawStr)
		return v, err
	case MessageFieldTypeInt8:
		v, err := strconv.ParseInt(rawStr, 10, 8)
		return int8(v), err
	case MessageFieldTypeUint8:
		v, err := strconv.ParseUint(rawStr, 10, 8)
		return uint8(v), err
	case MessageFieldTypeInt16:
		v, err := strconv.ParseInt(rawStr, 10, 16)
		return int16(v), err
	case MessageFieldTypeUint16:
		v, err := strconv.ParseUint(rawStr, 10, 16)
		return uint16(v), err
	case MessageFieldTypeInt32:
		v, err := strconv.ParseInt(rawStr, 10, 32)
		return int32(v), err
	case MessageFieldTypeUint32:
		v, err := strconv.ParseUint(rawStr, 10, 32)
		return uint32(v), err
	case MessageFieldTypeInt64:
		return strconv.ParseInt(rawStr, 10, 64)
	case MessageFieldTypeUint64:
		return strconv.ParseUint(rawStr, 10, 64)
	case MessageFieldTypeFloat32:
		v, err := strconv.ParseFloat(rawStr, 32)
		return float32(v), err
	case MessageFieldTypeFloat64:
		return strconv.ParseFloat(rawStr, 64)
	case MessageFieldTypeString:
		return rawStr, nil
	default:
		return nil, errInvalidConstType
	}
}

func (def *MessageDefinition) unmarshall(b []byte) error {
	var err error
	lines := bytes.Split(b, []byte("\n"))
	unresolvedFields := make(map[*MessageFieldDefinition]string)
	complexMsgs := []*MessageDefinition{def}

	for _, line := range lines {
		// find comments
		idx := bytes.IndexByte(line, '#')
		if idx != -1 {
			line = line[:idx]
		}

		// remove whitespaces
		line = bytes.TrimSpace(line)

		// these are usually comment lines, ignore
		if len(line) == 0 {
			continue
		}

		// at this point, if there's a '=', it just means a separator, ignore
		if line[0] == '=' {
			continue
		}

		// detect if this is a complex message definition
		if bytes.HasPrefix(line, []byte("MSG:")) {
			msgType := bytes.TrimSpace(line[len("MSG:"):])
			complexMsgs = append(complexMsgs, &MessageDefinition{Type: string(msgType)})
			continue
		}

		idx = bytes.IndexAny(line, " \t")
		if idx == -1 {
			return errInvalidFormat
		}
		fieldType := line[:idx]
		fieldName := bytes.TrimSpace(line[idx+1:])

		idx = bytes.IndexByte(fieldType, '[')
		var isArray bool
		var arraySize int = -1
		if idx != -1 {
			off := bytes.IndexByte(fieldType[idx:], ']')
			if off == -1 {
				return errInvalidFormat
			}
			if off > 1 {
				arraySizeRaw := fieldType[idx+1 : idx+off]
				arraySize, err = strconv.Atoi(string(arraySizeRaw))
				if err != nil {
					return err
				}
			}

			fieldType = fieldType[:idx]
			isArray = true
		}

		msgFieldType, ok := messageFieldTypeMap[string(fieldType)]
		if !ok {
			msgFieldType = MessageFieldTypeComplex
		}

		// detect constant
		var constantValue interface{}
		idx = bytes.IndexByte(fieldName, '=')
		if idx != -1 {
			constantValue, err = decodeConstValue(msgFieldType, bytes.TrimSpace(fieldName[idx+1:]))
			if err != nil {
				return err
			}
			fieldName = bytes.TrimSpace(fieldName[:idx])
		}

		complexMsg := complexMsgs[len(complexMsgs)-1]
		fieldDef := MessageFieldDefinition{
			Type:      msgFieldType,
			Name:      string(fieldName),
			IsArray:   isArray,
			ArraySize: arraySize,
			Value:     constantValue,
		}

		if fieldDef.Type == MessageFieldTypeComplex {
			unresolvedFields[&fieldDef] = qualifyMsgType(complexMsg.Type, string(fieldType))
		}
		complexMsg.Fields = append(complexMsg.Fields, &fieldDef)
	}

	for field, msgType := range unresolvedFields {
		msgDef := findComplexMsg(complexMsgs[1:], msgType)
		if msgDef == nil {
			return fmt.Errorf("%w: %s", errUnresolvedMsgType, msgType)
		}

		field.MsgType = msgDef
	}

	if isRecursive(def, make(map[*MessageDefinition]bool)) {
		return errRecursiveMsgType
	}
	return nil
}

func isRecursive(def *MessageDefinition, visiting map[*MessageDefinition]bool) bool {
	if visiting[def] {
		return true
	}

	visiting[def] = true
	defer delete(visiting, def)

	for _, field := range def.Fields {
		if field.MsgType != nil && isRecursive(field.MsgType, visiting) {
			return true
		}
	}
	return false
}

// minSize returns the smallest number of bytes a serialized def can take.
func (def *MessageDefinition) minSize() int {
	var size int
	for _, field := range def.Fields {
		if field.Value != nil {
			continue
		}

		var elemSize int
		switch {
		case field.Type == MessageFieldTypeComplex:
			elemSize = field.MsgType.minSize()
		case field.Type == MessageFieldTypeString:
			elemSize = lenInBytes
		default:
			elemSize = basicSizes[field.Type]
		}

		switch {
		case !field.IsArray:
			size += elemSize
		case field.ArraySize < 0:
			size += lenInBytes
		default:
			size += field.ArraySize * elemSize
		}
	}
	return size
}

type MessageFieldDefinition struct {
	Type    MessageFieldType
	Name    string
	IsArray bool
	// ArraySize is only used when the field is a fixed-size array. If it's a slice, ArraySize is -1
	ArraySize int
	// Value is an optional field. It's only being used for constants
	Value interface{}
	// MsgType is only being used when type is complex. This defines the custom
	// message type.
	MsgType *MessageDefinition
}

// qualifyMsgType resolves a field type the way ROS does: "Header" is std_msgs/Header,
// unqualified names belong to the package of the message declaring the field.
func qualifyMsgType(parent, fieldType string) string {
	if strings.Contains(fieldType, "/") {
		return fieldType
	}
	if fieldType == "Header" {
		return "std_msgs/Header"
	}
	if idx := strings.LastIndexByte(parent, '/'); idx != -1 {
		return parent[:idx+1] + fieldType
	}
	return fieldType
}

// findComplexMsg iterates complexMsgs, and find for msgType. When no package matches,
// the type name alone is used.
func findComplexMsg(complexMsgs []*MessageDefinition, msgType string) *MessageDefinition {
	for _, cur := range complexMsgs {
		if cur.Type == msgType {
			return cur
		}
	}

	name := msgType[strings.LastIndexByte(msgType, '/')+1:]
	for _, cur := range complexMsgs {
		if cur.Type[strings.LastIndexByte(cur.Type, '/')+1:] == name {
			return cur
		}
	}
	return nil
}

// messageTarget is where a decoded message goes: a generic map, the fields of a
// struct, or nowhere when both are nil and the message is only skipped.
type messageTarget struct {
	m      map[string]interface{}
	fields map[string]reflect.Value
}

func newMessageTarget(data interface{}) (messageTarget, error) {
	if m, ok := data.(map[string]interface{}); ok {
		if m == nil {
			return messageTarget{}, errInvalidDataType
		}
		return messageTarget{m: m}, nil
	}

	value := reflect.ValueOf(data)
	if value.Kind() != reflect.Ptr || value.IsNil() || value.Elem().Kind() != reflect.Struct {
		return messageTarget{}, errInvalidDataType
	}

	return newStructTarget(value.Elem()), nil
}

func newStructTarget(structValue reflect.Value) messageTarget {
	mapper := make(map[string]reflect.Value)
	createFieldMapper(structValue, mapper)
	return messageTarget{fields: mapper}
}

func createFieldMapper(structValue reflect.Value, mapper map[string]reflect.Value) {
	structType := structValue.Type()
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.PkgPath != "" {
			continue
		}

		fieldName, ok := field.Tag.Lookup(rosbagStructTag)
		if !ok {
			fieldName = field.Name
		}
		if fieldName == "-" {
			continue
		}

		mapper[fieldName] = structValue.Field(i)
	}
}

func (target messageTarget) set(k string, v interface{}) error {
	if target.m != nil {
		target.m[k] = v
		return nil
	}

	fieldValue, ok := target.fields[k]
	if !ok {
		return nil
	}

	reflectValue := reflect.ValueOf(v)
	if reflectValue.Type() != fieldValue.Type() {
		return fmt.Errorf("message field %s is %s, but the struct field is %s", k, reflectValue.Type(), fieldValue.Type())
	}

	fieldValue.Set(reflectValue)
	return nil
}

func (target messageTarget) child(k string) (messageTarget, error) {
	if target.m != nil {
		m := make(map[string]interface{})
		target.m[k] = m
		return messageTarget{m: m}, nil
	}

	fieldValue, ok := target.fields[k]
	if !ok {
		return messageTarget{}, nil
	}

	if fieldValue.Kind() != reflect.Struct {
		return messageTarget{}, fmt.Errorf("message field %s is a message, but the struct field is %s", k, fieldValue.Type())
	}
	return newStructTarget(fieldValue), nil
}

func (target messageTarget) children(k string, length int) ([]messageTarget, error) {
	targets := make([]messageTarget, length)

	if target.m != nil {
		arr := make([]map[string]interface{}, length)
		for i := range arr {
			arr[i] = make(map[string]interface{})
			targets[i] = messageTarget{m: arr[i]}
		}
		target.m[k] = arr
		return targets, nil
	}

	fieldValue, ok := target.fields[k]
	if !ok {
		return targets, nil
	}

	fieldType := fieldValue.Type()
	if fieldType.Kind() != reflect.Slice || fieldType.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("message field %s is a message array, but the struct field is %s", k, fieldType)
	}

	vs := reflect.MakeSlice(fieldType, length, length)
	for i := 0; i < length; i++ {
		targets[i] = newStructTarget(vs.Index(i))
	}
	fieldValue.Set(vs)
	return targets, nil
}

// covers reports an error when the struct behind target has a field def doesn't
// describe. Such a struct would silently keep zero values.
func (target messageTarget) covers(def *MessageDefinition) error {
	if target.fields == nil {
		return nil
	}

	names := make(map[string]bool, len(def.Fields))
	for _, field := range def.Fields {
		names[field.Name] = true
	}
	for name := range target.fields {
		if !names[name] {
			return fmt.Errorf("%w: %s has no %s", errMissingField, def.Type, name)
		}
	}
	return nil
}

func decodeMessageData(def *MessageDefinition, raw []byte, target messageTarget) ([]byte, error) {
	if err := target.covers(def); err != nil {
		return nil, err
	}

	for _, field := range def.Fields {
		var err error

		switch {
		case field.Value != nil:
			// Const value, no need to parse. A struct that disagrees on the type
			// simply doesn't get it.
			_ = target.set(field.Name, field.Value)
		case field.Type != MessageFieldTypeComplex:
			var v interface{}
			v, raw, err = decodeFieldBasic(field, raw)
			if err == nil {
				err = target.set(field.Name, v)
			}
		case field.IsArray:
			raw, err = decodeFieldComplexSlice(field, raw, target)
		default:
			var sub messageTarget
			sub, err = target.child(field.Name)
			if err == nil {
				raw, err = decodeMessageData(field.MsgType, raw, sub)
			}
		}

		if err != nil {
			return nil, err
		}
	}

	return raw, nil
}

func decodeFieldBasic(field *MessageFieldDefinition, raw []byte) (interface{}, []byte, error) {
	var v interface{}
	var off int
	var ok bool
	if field.IsArray {
		v, off, ok = fieldDecodeSlice(field.Type, raw, field.ArraySize)
	} else {
		v, off, ok = fieldDecodeBasic(field.Type, raw)
	}
	if !ok {
		return nil, raw, errInvalidFormat
	}

	return v, raw[off:], nil
}

func decodeFieldComplexSlice(field *MessageFieldDefinition, raw []byte, target messageTarget) ([]byte, error) {
	length, off, ok := fieldDecodeLength(raw, field.ArraySize)
	if !ok {
		return raw, errInvalidFormat
	}
	raw = raw[off:]

	// fixed counts come from the definition. Empty messages take no bytes but
	// their count is still bounded by what's left.
	if size := max(field.MsgType.minSize(), 1); length > len(raw)/size {
		return raw, errInvalidFormat
	}

	targets, err := target.children(field.Name, length)
	if err != nil {
		return raw, err
	}

	for _, sub := range targets {
		raw, err = decodeMessageData(field.MsgType, raw, sub)
		if err != nil {
			return raw, err
		}
	}

	return raw, nil
}

// Marshal serializes v, a struct or a pointer to a struct, following def. Fields
// missing from v and nil slices are written as zero values.
func Marshal(def *MessageDefinition, v interface{}) ([]byte, error) {
	value := reflect.Indirect(reflect.ValueOf(v))
	if value.Kind() != reflect.Struct {
		return nil, errInvalidDataType
	}

	return encodeMessageData(def, value, nil)
}

func sourceFields(value reflect.Value) map[string]reflect.Value {
	if !value.IsValid() {
		return nil
	}
	mapper := make(map[string]reflect.Value)
	createFieldMapper(value, mapper)
	return mapper
}

func encodeMessageData(def *MessageDefinition, value reflect.Value, b []byte) ([]byte, error) {
	fields := sourceFields(value)

	for _, field := range def.Fields {
		if field.Value != nil {
			continue
		}

		var err error
		fieldValue := fields[field.Name]

		switch {
		case field.Type != MessageFieldTypeComplex && field.IsArray:
			b, err = fieldEncodeSlice(b, field.Type, fieldValue, field.ArraySize)
		case field.Type != MessageFieldTypeComplex:
			b, err = fieldEncodeBasic(b, field.Type, fieldValue)
		case field.IsArray:
			b, err = encodeFieldComplexSlice(b, field, fieldValue)
		default:
			if fieldValue.IsValid() && fieldValue.Kind() != reflect.Struct {
				return nil, fmt.Errorf("message field %s is a message, but the struct field is %s", field.Name, fieldValue.Type())
			}
			b, err = encodeMessageData(field.MsgType, fieldValue, b)
		}

		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.Name, err)
		}
	}

	return b, nil
}

func encodeFieldComplexSlice(b []byte, field *MessageFieldDefinition, value reflect.Value) ([]byte, error) {
	value = nilAsMissing(value)
	length := 0
	if value.IsValid() {
		if value.Kind() != reflect.Slice || value.Type().Elem().Kind() != reflect.Struct {
			return nil, errInvalidDataType
		}
		length = value.Len()
	}

	if field.ArraySize >= 0 {
		if value.IsValid() && length != field.ArraySize {
			return nil, fmt.Errorf("expected %d elements, got %d", field.ArraySize, length)
		}
		for i := 0; i < field.ArraySize; i++ {
			var elem reflect.Value
			if value.IsValid() {
				elem = value.Index(i)
			}
			var err error
			b, err = encodeMessageData(field.MsgType, elem, b)
			if err != nil {
				return nil, err
			}
		}
		return b, nil
	}

	b = endian.AppendUint32(b, uint32(length))
	for i := 0; i < length; i++ {
		var err error
		b, err = encodeMessageData(field.MsgType, value.Index(i), b)
		if err != nil {
			return nil, err
		}
	}
	return b, nil
}
