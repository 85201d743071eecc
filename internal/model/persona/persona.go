package persona

// JervisID identifies the default assistant persona.
const JervisID = "jervis"

// Persona captures the assistant attributes exposed to the frontend and the
// fixed phrases the widget speaks or displays.
type Persona struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Language          string `json:"language"`
	SystemInstruction string `json:"systemInstruction"`
	Apology           string `json:"apology"`           // 对话服务失败时的固定回复
	VoiceInputApology string `json:"voiceInputApology"` // 语音识别出错时播报
	StopAck           string `json:"stopAck"`           // 关闭麦克风时播报
	ListeningStatus   string `json:"listeningStatus"`
	IdleStatus        string `json:"idleStatus"`
	UnsupportedNotice string `json:"unsupportedNotice"`
}

// Seed provides the personas shipped with the widget.
func Seed() []Persona {
	return []Persona{
		{
			ID:                JervisID,
			Name:              "जर्विस",
			Language:          "hi-IN",
			SystemInstruction: "आप एक सहायक और मैत्रीपूर्ण आवाज सहायक हैं जिसका नाम जर्विस है। अपने जवाबों को संक्षिप्त रखें। URL या HTML टैग शामिल न करें।",
			Apology:           "क्षमा करें, मैं अभी प्रतिक्रिया नहीं पा सका। कृपया पुनः प्रयास करें।",
			VoiceInputApology: "क्षमा करें, मेरे वॉइस इनपुट में दिक्कत आ रही है।",
			StopAck:           "सुनना बंद हो गया।",
			ListeningStatus:   "जर्विस सुन रहा है...",
			IdleStatus:        "जर्विस निष्क्रिय है",
			UnsupportedNotice: "भाषण पहचान इस ब्राउज़र में समर्थित नहीं है। कृपया Chrome का उपयोग करें।",
		},
	}
}

// Default returns the Jervis persona.
func Default() Persona {
	return Seed()[0]
}
