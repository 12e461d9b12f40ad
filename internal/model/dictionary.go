package model

// DictionaryEntry is one row of world_bank/_dictionary.csv: the catalog's
// description of an indicator merged with the API's own metadata.
type DictionaryEntry struct {
	IndicatorCode string `json:"indicator_code" csv:"indicator_code"`
	Name          string `json:"name" csv:"name"`
	Unit          string `json:"unit" csv:"unit"`
	Group         string `json:"group" csv:"group"`
	WBName        string `json:"wb_name" csv:"wb_name"`
	WBSourceNote  string `json:"wb_source_note" csv:"wb_source_note"`
}
