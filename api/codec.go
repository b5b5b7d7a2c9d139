package api

import (
	"errors"
	"fmt"

	"github.com/ohler55/ojg/oj"
)

// Wire field names. Clients are JavaScript, so keys stay camelCase.
const (
	fieldID          = "id"
	fieldTimestamp   = "timestamp"
	fieldType        = "type"
	fieldSource      = "source"
	fieldRealmID     = "realmId"
	fieldStyles      = "styles"
	fieldText        = "text"
	fieldClassName   = "className"
	fieldPreview     = "preview"
	fieldBaseVersion = "baseVersion"
	fieldVersion     = "version"
	fieldSelector    = "selector"
	fieldFilePath    = "filePath"
	fieldAffected    = "affectedRealmIds"
	fieldError       = "error"
	fieldClientID    = "clientId"
	fieldTxID        = "txId"
	fieldLocalVer    = "localVersion"
	fieldIncomingVer = "incomingVersion"
)

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrBadFrame    = errors.New("malformed event frame")
)

// Decode parses a wire frame into its typed event. The type tag selects the
// variant; missing optional fields decode to zero values, a missing or
// unknown type tag is an error.
func Decode(data []byte) (Event, error) {
	parsed, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: frame is not an object", ErrBadFrame)
	}

	meta := Meta{
		ID:        str(obj, fieldID),
		Timestamp: num(obj, fieldTimestamp),
		Source:    Source(str(obj, fieldSource)),
	}

	switch Kind(str(obj, fieldType)) {
	case KindSelection:
		return Selection{Meta: meta, RealmID: str(obj, fieldRealmID)}, nil
	case KindStyleChanged:
		return StyleChanged{
			Meta:        meta,
			RealmID:     str(obj, fieldRealmID),
			Styles:      strMap(obj, fieldStyles),
			Preview:     boolean(obj, fieldPreview),
			BaseVersion: int(num(obj, fieldBaseVersion)),
		}, nil
	case KindTextChanged:
		return TextChanged{
			Meta:        meta,
			RealmID:     str(obj, fieldRealmID),
			Text:        str(obj, fieldText),
			Preview:     boolean(obj, fieldPreview),
			BaseVersion: int(num(obj, fieldBaseVersion)),
		}, nil
	case KindClassChanged:
		return ClassChanged{
			Meta:        meta,
			RealmID:     str(obj, fieldRealmID),
			ClassName:   str(obj, fieldClassName),
			Preview:     boolean(obj, fieldPreview),
			BaseVersion: int(num(obj, fieldBaseVersion)),
		}, nil
	case KindCommitRequested:
		return CommitRequested{
			Meta:        meta,
			RealmID:     str(obj, fieldRealmID),
			Selector:    str(obj, fieldSelector),
			FilePath:    str(obj, fieldFilePath),
			BaseVersion: int(num(obj, fieldBaseVersion)),
			Styles:      strMap(obj, fieldStyles),
			Text:        optStr(obj, fieldText),
			ClassName:   optStr(obj, fieldClassName),
		}, nil
	case KindCommitCompleted:
		return CommitCompleted{
			Meta:    meta,
			RealmID: str(obj, fieldRealmID),
			Version: int(num(obj, fieldVersion)),
		}, nil
	case KindRollbackRequested:
		return RollbackRequested{Meta: meta, RealmID: str(obj, fieldRealmID)}, nil
	case KindRolledBack:
		return RolledBack{Meta: meta, RealmID: str(obj, fieldRealmID)}, nil
	case KindConflict:
		return Conflict{
			Meta:            meta,
			RealmID:         str(obj, fieldRealmID),
			LocalVersion:    int(num(obj, fieldLocalVer)),
			IncomingVersion: int(num(obj, fieldIncomingVer)),
		}, nil
	case KindTransactionStarted:
		return TransactionStarted{Meta: meta, TxID: str(obj, fieldTxID), RealmID: str(obj, fieldRealmID)}, nil
	case KindTransactionCompleted:
		return TransactionCompleted{Meta: meta, TxID: str(obj, fieldTxID), RealmID: str(obj, fieldRealmID)}, nil
	case KindTransactionFailed:
		return TransactionFailed{
			Meta:    meta,
			TxID:    str(obj, fieldTxID),
			RealmID: str(obj, fieldRealmID),
			Error:   str(obj, fieldError),
		}, nil
	case KindFileChanged:
		return FileChanged{
			Meta:             meta,
			FilePath:         str(obj, fieldFilePath),
			AffectedRealmIDs: strSlice(obj, fieldAffected),
		}, nil
	case KindClientConnected:
		return ClientConnected{Meta: meta, ClientID: str(obj, fieldClientID)}, nil
	case KindClientDisconnected:
		return ClientDisconnected{Meta: meta, ClientID: str(obj, fieldClientID)}, nil
	case KindError:
		return Error{Meta: meta, Message: str(obj, fieldError)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, str(obj, fieldType))
	}
}

// Encode renders a typed event as a wire frame.
func Encode(ev Event) ([]byte, error) {
	obj := map[string]any{
		fieldID:        ev.EventMeta().ID,
		fieldTimestamp: ev.EventMeta().Timestamp,
		fieldType:      string(ev.Kind()),
		fieldSource:    string(ev.EventMeta().Source),
	}

	switch e := ev.(type) {
	case Selection:
		obj[fieldRealmID] = e.RealmID
	case StyleChanged:
		obj[fieldRealmID] = e.RealmID
		obj[fieldStyles] = toAnyMap(e.Styles)
		obj[fieldPreview] = e.Preview
		obj[fieldBaseVersion] = e.BaseVersion
	case TextChanged:
		obj[fieldRealmID] = e.RealmID
		obj[fieldText] = e.Text
		obj[fieldPreview] = e.Preview
		obj[fieldBaseVersion] = e.BaseVersion
	case ClassChanged:
		obj[fieldRealmID] = e.RealmID
		obj[fieldClassName] = e.ClassName
		obj[fieldPreview] = e.Preview
		obj[fieldBaseVersion] = e.BaseVersion
	case CommitRequested:
		obj[fieldRealmID] = e.RealmID
		obj[fieldSelector] = e.Selector
		obj[fieldFilePath] = e.FilePath
		obj[fieldBaseVersion] = e.BaseVersion
		if e.Styles != nil {
			obj[fieldStyles] = toAnyMap(e.Styles)
		}
		if e.Text != nil {
			obj[fieldText] = *e.Text
		}
		if e.ClassName != nil {
			obj[fieldClassName] = *e.ClassName
		}
	case CommitCompleted:
		obj[fieldRealmID] = e.RealmID
		obj[fieldVersion] = e.Version
	case RollbackRequested:
		obj[fieldRealmID] = e.RealmID
	case RolledBack:
		obj[fieldRealmID] = e.RealmID
	case Conflict:
		obj[fieldRealmID] = e.RealmID
		obj[fieldLocalVer] = e.LocalVersion
		obj[fieldIncomingVer] = e.IncomingVersion
	case TransactionStarted:
		obj[fieldTxID] = e.TxID
		obj[fieldRealmID] = e.RealmID
	case TransactionCompleted:
		obj[fieldTxID] = e.TxID
		obj[fieldRealmID] = e.RealmID
	case TransactionFailed:
		obj[fieldTxID] = e.TxID
		obj[fieldRealmID] = e.RealmID
		obj[fieldError] = e.Error
	case FileChanged:
		obj[fieldFilePath] = e.FilePath
		obj[fieldAffected] = toAnySlice(e.AffectedRealmIDs)
	case ClientConnected:
		obj[fieldClientID] = e.ClientID
	case ClientDisconnected:
		obj[fieldClientID] = e.ClientID
	case Error:
		obj[fieldError] = e.Message
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}

	return oj.Marshal(obj)
}

func str(obj map[string]any, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func optStr(obj map[string]any, key string) *string {
	if v, ok := obj[key].(string); ok {
		return &v
	}
	return nil
}

func boolean(obj map[string]any, key string) bool {
	if v, ok := obj[key].(bool); ok {
		return v
	}
	return false
}

// num tolerates the numeric types ojg may produce for a JSON number.
func num(obj map[string]any, key string) int64 {
	switch v := obj[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func strMap(obj map[string]any, key string) map[string]string {
	raw, ok := obj[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

func strSlice(obj map[string]any, key string) []string {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
