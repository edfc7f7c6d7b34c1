package domain

// DefaultLanguage 是新房间的初始代码语言。
const DefaultLanguage = "python"

// Languages 是协作代码编辑器预置的语言缓冲区集合。
// 客户端可以发送集合之外的语言，会按需懒创建缓冲区。
var Languages = []string{"python", "java", "cpp", "javascript"}

// Document 是一个房间的共享协作状态：笔记文本、当前激活语言、
// 以及按语言划分的相互独立的代码缓冲区。
// 所有字段都是 last-writer-wins：最近一次写入完整覆盖旧值，不做合并。
type Document struct {
	Notes    string            `json:"notes"`
	Language string            `json:"language"`
	Codes    map[string]string `json:"codes"`
}

// NewDocument 返回一个空的默认文档。seedNotes 来自持久化的历史笔记，
// 让重建的房间从上次保存的内容继续，而不是旧的内存状态。
func NewDocument(seedNotes string) Document {
	codes := make(map[string]string, len(Languages))
	for _, lang := range Languages {
		codes[lang] = ""
	}
	return Document{
		Notes:    seedNotes,
		Language: DefaultLanguage,
		Codes:    codes,
	}
}

// Clone 返回文档的深拷贝，用于向新成员发送快照时脱离锁的保护范围。
func (d Document) Clone() Document {
	codes := make(map[string]string, len(d.Codes))
	for lang, code := range d.Codes {
		codes[lang] = code
	}
	return Document{
		Notes:    d.Notes,
		Language: d.Language,
		Codes:    codes,
	}
}
