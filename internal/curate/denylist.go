package curate

// DefaultDenylist returns substrings marking navigation, commerce and adult
// boilerplate on Japanese pages.
func DefaultDenylist() []string {
	return []string{
		// navigation and site chrome
		"ログイン", "ログアウト", "会員登録", "新規登録", "パスワード",
		"利用規約", "プライバシーポリシー", "個人情報保護方針", "サイトマップ",
		"お問い合わせ", "トップページ", "ページの先頭", "ページトップ",
		"前のページ", "次のページ", "一覧に戻る", "ホームに戻る",
		"Copyright", "copyright", "All Rights Reserved", "All rights reserved",
		"JavaScriptを有効", "cookie", "Cookie",
		// commerce and marketing
		"カートに入れる", "買い物かご", "送料無料", "税込", "在庫あり",
		"ポイント還元", "今すぐ購入", "期間限定", "クーポン", "キャンペーン実施中",
		"お得な", "最安値", "激安", "無料体験", "資料請求",
		// adult and spam
		"アダルト", "出会い系", "無修正", "セフレ", "エロ",
		"副業で稼", "即日融資", "借金", "カジノ",
	}
}
