package generation

import (
	"strings"
	"testing"
)

func TestComplete(t *testing.T) {
	tests := []struct {
		sentence, answer, want string
	}{
		{"나는 ( ) 좋아해요.", "사과를", "나는 사과를 좋아해요."},
		{"( )", "안녕하세요", "안녕하세요."},
		{"어디에 ( )?", "가요?", "어디에 가요?"},
		{"저는 ( )", "학생입니다.", "저는 학생입니다."},
		{"날씨가 ( ).", "좋아요!", "날씨가 좋아요!"},
		{"나는 (  ) 왔다..", "학교에", "나는 학교에 왔다."},
		{"내일 ( ) 만나요", " 친구를 ", "내일 친구를 만나요."},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := Complete(tt.sentence, tt.answer)
			if got != tt.want {
				t.Errorf("Complete(%q, %q) = %q, want %q", tt.sentence, tt.answer, got, tt.want)
			}
			if CountBlanks(got) != 0 {
				t.Errorf("completed sentence %q still has a blank", got)
			}
			if !strings.ContainsAny(got[len(got)-1:], ".!?") {
				t.Errorf("completed sentence %q lacks terminal punctuation", got)
			}
		})
	}
}

func TestValidateDraft(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		wantErr string
	}{
		{"valid noun", Draft{Word: "고양이", Answer: "고양이가", Sentence: "( ) 밥을 먹어요."}, ""},
		{"noun ending in particle syllable", Draft{Word: "고양이", Answer: "고양이를", Sentence: "나는 ( ) 좋아해요."}, ""},
		{"valid verb", Draft{Word: "먹다", Answer: "먹어요", Sentence: "밥을 ( )."}, ""},
		{"verb followed by connective", Draft{Word: "가다", Answer: "가", Sentence: "학교에 ( )도 돼요."}, ""},
		{"no blank", Draft{Word: "학교", Answer: "학교에", Sentence: "학교에 가요."}, "0 blank markers"},
		{"two blanks", Draft{Word: "학교", Answer: "학교에", Sentence: "( ) ( ) 가요."}, "2 blank markers"},
		{"empty answer", Draft{Word: "학교", Answer: " ", Sentence: "( ) 가요."}, "answer is empty"},
		{"particle repeated", Draft{Word: "학생", Answer: "학생이", Sentence: "( )이 왔어요."}, "already ends in"},
		{"particle outside answer", Draft{Word: "학생", Answer: "학생", Sentence: "( )이 왔어요."}, "must be part of the answer"},
		{"particle before punctuation", Draft{Word: "책", Answer: "책", Sentence: "이것은 ( )을, 저것은 펜을 사요."}, "must be part of the answer"},
		{"attached syllable not a particle", Draft{Word: "학", Answer: "학", Sentence: "( )이다 사람이 와요."}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDraft(tt.draft)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateDraft() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateDraft() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeDraftBlankSpelling(t *testing.T) {
	d := normalizeDraft(Draft{Word: " 책 ", Sentence: "저는 (   ) 읽어요. "})
	if d.Sentence != "저는 ( ) 읽어요." {
		t.Errorf("sentence = %q", d.Sentence)
	}
	if d.Word != "책" {
		t.Errorf("word = %q", d.Word)
	}
}
